//go:build linux || darwin

package runison

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number from a FileInfo on platforms whose
// Sys() value is a *syscall.Stat_t. It returns 0 if the underlying
// type doesn't match, which can happen for some virtual filesystems.
func inodeOf(fi os.FileInfo) uint64 {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Ino)
}
