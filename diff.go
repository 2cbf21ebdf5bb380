package runison

// ChangeType classifies one entry of a Change set.
type ChangeType int

const (
	// Added means the path is present in the newer index but absent
	// from the older one.
	Added ChangeType = iota
	// Modified means the path is present in both indices, is not a
	// directory, and the two modification timestamps differ.
	Modified
	// Deleted means the path is present in the older index but absent
	// from the newer one.
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Change pairs a ChangeType with the Node it describes. Key is the
// index key (the root-relative path with "/" separators) the change
// was observed at; it is what travels over the wire in SendMe
// requests, since Node.Path is a local absolute path meaningless on
// the other peer.
type Change struct {
	Type ChangeType
	Key  string
	Node Node
}

// Diff compares two indices, a (older, or the remote side) and b
// (newer, or the local side), and returns the ordered list of
// changes needed to bring a up to date with b.
//
// The emission order is: every key present in b, in lexicographic
// order (contributing Added or Modified), followed by every key
// present in a but not b, in lexicographic order (contributing
// Deleted). Directories never contribute Modified — they have no
// content to compare — but do contribute Added and Deleted.
// Symlinks are compared as files (their modification time is what's
// compared, per the documented ambiguity in the original: the source
// never compares link targets). Equal timestamps are not a change.
func Diff(a, b *Index) []Change {
	var changes []Change

	b.Each(func(k string, bn Node) bool {
		an, ok := a.Get(k)
		switch {
		case !ok:
			changes = append(changes, Change{Type: Added, Key: k, Node: bn})
		case !bn.IsDir && (bn.ModSec != an.ModSec || bn.ModNanos != an.ModNanos):
			changes = append(changes, Change{Type: Modified, Key: k, Node: bn})
		}
		return true
	})

	a.Each(func(k string, an Node) bool {
		if _, ok := b.Get(k); !ok {
			changes = append(changes, Change{Type: Deleted, Key: k, Node: an})
		}
		return true
	})

	return changes
}
