// Package runison implements a bidirectional file-tree synchronizer.
//
// Two peers keep a designated subtree of their filesystems in
// agreement across sessions: a server (the authoritative directory
// owner, also the discovery endpoint) and one or more participants
// (clients holding their own copy of the tree). Each peer maintains a
// persistent Index of its tree. On every run the two sides exchange
// indices, compute a change set, and transfer whatever files are
// needed to reconcile the divergence.
//
// This package defines the shared data model: Node, the metadata
// record for one filesystem entry; Index, the ordered map from
// relative path to Node that is serialized to disk between runs; and
// Change, the unit of a diff between two indices. The protocol state
// machines live in the server and participant subpackages; the wire
// format lives in the wire subpackage; the snapshot walk-and-persist
// logic lives in internal/indexstore.
//
// Nothing in this package talks to the network or to a TOML file.
// Those are external collaborators: the core here consumes a parsed
// Config and produces values its callers can log or transmit.
package runison
