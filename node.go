package runison

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Node is an immutable record of one filesystem entry's metadata.
//
// Exactly one of IsDir, IsFile, IsSymlink is true for a well-formed
// Node. Len is meaningful only when IsFile. Path is the absolute path
// on the owning host; it is used for local I/O only and must never be
// compared across hosts (two peers' roots live at different absolute
// paths). Inode is likewise a local identity hint, not a cross-host
// identifier.
type Node struct {
	IsDir     bool
	IsFile    bool
	IsSymlink bool

	// Name is the entry's basename, preserved as the raw bytes the
	// filesystem handed back rather than assumed to be valid UTF-8.
	Name []byte

	// Path is the absolute path on the local host.
	Path string

	// Len is the byte length, valid only when IsFile.
	Len uint64

	// ModSec and ModNanos together encode the modification timestamp as
	// seconds and nanoseconds since the Unix epoch, matching the
	// snapshot grammar bit for bit so round-tripping never truncates.
	ModSec   uint64
	ModNanos uint32

	Inode uint64
}

// NewNode stats the absolute path formed by joining root and a
// root-relative path, and returns the populated Node.
//
// Symlinks are followed for metadata purposes: os.Stat (not Lstat) is
// used once the entry is known to be a symlink, so Len and the
// modification time describe the link's target. If the target is
// missing, NewNode fails with ErrNodeUnreadable; callers (the index
// walker) record the failure and skip the entry rather than aborting
// the whole walk.
func NewNode(root, relPath string) (Node, error) {
	abs := filepath.Join(root, relPath)

	lst, err := os.Lstat(abs)
	if err != nil {
		return Node{}, errors.Wrapf(ErrNodeUnreadable, "lstat %s: %v", abs, err)
	}

	var n Node
	n.Name = []byte(filepath.Base(abs))
	n.Path = abs

	if lst.Mode()&os.ModeSymlink != 0 {
		n.IsSymlink = true
		st, err := os.Stat(abs)
		if err != nil {
			return Node{}, errors.Wrapf(ErrNodeUnreadable, "stat symlink target %s: %v", abs, err)
		}
		n.populateFromInfo(st)
		// A symlink is treated as a file for content-comparison purposes
		// (diff engine), but we keep IsSymlink set so callers can tell
		// the two apart; IsFile stays false here per the mutual-exclusion
		// invariant, and diff.go special-cases IsDir==false to include
		// symlinks in Modified detection.
		return n, nil
	}

	if lst.IsDir() {
		n.IsDir = true
	} else {
		n.IsFile = true
	}
	n.populateFromInfo(lst)
	return n, nil
}

func (n *Node) populateFromInfo(fi os.FileInfo) {
	if !n.IsSymlink {
		n.IsDir = fi.IsDir()
		n.IsFile = !fi.IsDir()
	}
	if n.IsFile {
		n.Len = uint64(fi.Size())
	}
	mt := fi.ModTime()
	n.ModSec = uint64(mt.Unix())
	n.ModNanos = uint32(mt.Nanosecond())
	n.Inode = inodeOf(fi)
}

// ModTime reconstructs the time.Time encoded by ModSec and ModNanos.
func (n Node) ModTime() time.Time {
	return time.Unix(int64(n.ModSec), int64(n.ModNanos)).UTC()
}
