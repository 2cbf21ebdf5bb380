package runison

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Index is the in-memory form of a tree snapshot: a mapping from
// root-relative path (using "/" separators, never containing the
// root prefix) to Node. The root itself is present under the
// normalized key returned by RootKey.
//
// Index is backed by a plain map; sortedness is a property of
// encoding (Encode always emits keys in lexicographic order) and of
// iteration (Each always visits keys in that order), per design note
// "Index map representation" — a hash map is fine as long as the
// serializer sorts before writing.
type Index struct {
	m map[string]Node
}

// NewIndex returns an empty Index ready for Put calls.
func NewIndex() *Index {
	return &Index{m: make(map[string]Node)}
}

// RootKey normalizes the empty relative path (the root entry itself)
// to the root's own absolute path string, giving the root a unique,
// valid key in the index.
func RootKey(root string) string {
	return root
}

// Put inserts or overwrites the Node at key.
func (idx *Index) Put(key string, n Node) {
	idx.m[key] = n
}

// Get looks up the Node at key.
func (idx *Index) Get(key string) (Node, bool) {
	n, ok := idx.m[key]
	return n, ok
}

// Delete removes key, if present.
func (idx *Index) Delete(key string) {
	delete(idx.m, key)
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.m)
}

// Keys returns every key in lexicographic order.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.m))
	for k := range idx.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Each calls f for every entry in lexicographic key order, stopping
// early if f returns false.
func (idx *Index) Each(f func(key string, n Node) bool) {
	for _, k := range idx.Keys() {
		if !f(k, idx.m[k]) {
			return
		}
	}
}

// Encode serializes the index using the bit-exact binary grammar
// described in the external interfaces section: a u64 count followed
// by that many entries, each a length-prefixed key and a fixed-layout
// Node, all little-endian, no padding. Keys are written in
// lexicographic order so that two encodings of an equal Index are
// byte-identical.
func (idx *Index) Encode() ([]byte, error) {
	var buf bytes.Buffer
	keys := idx.Keys()

	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(keys))); err != nil {
		return nil, errors.Wrap(err, "writing entry count")
	}
	for _, k := range keys {
		n := idx.m[k]
		if err := writeString(&buf, k); err != nil {
			return nil, errors.Wrapf(err, "writing key %q", k)
		}
		if err := writeNode(&buf, n); err != nil {
			return nil, errors.Wrapf(err, "writing node for %q", k)
		}
	}
	return buf.Bytes(), nil
}

// DecodeIndex parses the grammar written by Encode.
func DecodeIndex(data []byte) (*Index, error) {
	r := bytes.NewReader(data)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrap(ErrSnapshotDecode, "reading entry count: "+err.Error())
	}

	idx := NewIndex()
	for i := uint64(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, errors.Wrap(ErrSnapshotDecode, "reading key: "+err.Error())
		}
		n, err := readNode(r)
		if err != nil {
			return nil, errors.Wrap(ErrSnapshotDecode, "reading node: "+err.Error())
		}
		idx.Put(key, n)
	}
	if r.Len() != 0 {
		return nil, errors.Wrap(ErrSnapshotDecode, "trailing bytes after last entry")
	}
	return idx, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeBool(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v uint8
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}

func writeNode(w io.Writer, n Node) error {
	for _, b := range []bool{n.IsDir, n.IsFile, n.IsSymlink} {
		if err := writeBool(w, b); err != nil {
			return err
		}
	}
	if err := writeBytes(w, n.Name); err != nil {
		return err
	}
	if err := writeString(w, n.Path); err != nil {
		return err
	}
	for _, v := range []uint64{n.Len, n.ModSec} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, n.ModNanos); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, n.Inode)
}

func readNode(r io.Reader) (Node, error) {
	var n Node
	var err error

	if n.IsDir, err = readBool(r); err != nil {
		return n, err
	}
	if n.IsFile, err = readBool(r); err != nil {
		return n, err
	}
	if n.IsSymlink, err = readBool(r); err != nil {
		return n, err
	}
	if n.Name, err = readBytes(r); err != nil {
		return n, err
	}
	if n.Path, err = readString(r); err != nil {
		return n, err
	}
	if err = binary.Read(r, binary.LittleEndian, &n.Len); err != nil {
		return n, err
	}
	if err = binary.Read(r, binary.LittleEndian, &n.ModSec); err != nil {
		return n, err
	}
	if err = binary.Read(r, binary.LittleEndian, &n.ModNanos); err != nil {
		return n, err
	}
	if err = binary.Read(r, binary.LittleEndian, &n.Inode); err != nil {
		return n, err
	}
	return n, nil
}
