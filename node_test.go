package runison

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewNodeFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f1"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := NewNode(dir, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsFile || n.IsDir || n.IsSymlink {
		t.Fatalf("unexpected node kind: %+v", n)
	}
	if n.Len != 5 {
		t.Fatalf("Len = %d, want 5", n.Len)
	}
}

func TestNewNodeDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	n, err := NewNode(dir, "sub")
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsDir || n.IsFile || n.IsSymlink {
		t.Fatalf("unexpected node kind: %+v", n)
	}
}

func TestNewNodeSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("xyz"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	n, err := NewNode(dir, "link")
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsSymlink {
		t.Fatalf("expected IsSymlink, got %+v", n)
	}
	if n.IsDir || n.IsFile {
		t.Fatalf("is_dir/is_file/is_symlink must be mutually exclusive: %+v", n)
	}
	// Len is only meaningful when IsFile; a symlink's mtime still
	// reflects its target, since symlinks are compared as files for
	// timestamp purposes.
	if n.Len != 0 {
		t.Fatalf("Len = %d, want 0 for a symlink node", n.Len)
	}
}

func TestNewNodeUnreadable(t *testing.T) {
	dir := t.TempDir()
	_, err := NewNode(dir, "does-not-exist")
	if err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestNodeModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f1")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, want, want); err != nil {
		t.Fatal(err)
	}

	n, err := NewNode(dir, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if !n.ModTime().Equal(want) {
		t.Fatalf("ModTime() = %v, want %v", n.ModTime(), want)
	}
}
