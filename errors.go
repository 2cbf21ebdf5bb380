package runison

import "github.com/pkg/errors"

// Sentinel errors for the conditions enumerated in the error handling
// design. Each is fatal, recoverable, or connection-scoped as
// documented at its use site.
var (
	// ErrConfigInvalid is returned when a configuration file cannot be
	// parsed, or is missing required fields such as root.path.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrBadIgnorePattern is returned when an ignore.name or ignore.path
	// glob fails to compile.
	ErrBadIgnorePattern = errors.New("malformed ignore pattern")

	// ErrNodeUnreadable is returned by NewNode when the entry (or, for a
	// symlink, its target) cannot be stat'd.
	ErrNodeUnreadable = errors.New("node unreadable")

	// ErrSnapshotIO is returned when a snapshot file cannot be read or
	// written.
	ErrSnapshotIO = errors.New("snapshot i/o error")

	// ErrSnapshotDecode is returned when a snapshot file's contents do
	// not match the expected binary grammar.
	ErrSnapshotDecode = errors.New("snapshot decode error")

	// ErrDeserialization is returned by the wire codec when a frame's
	// payload does not decode as the tagged union it claims to be.
	ErrDeserialization = errors.New("deserialization error")

	// ErrListenFailed is returned when the server cannot bind its
	// control listener.
	ErrListenFailed = errors.New("listen failed")

	// ErrConnectFailed is returned when a participant cannot reach the
	// server's discovery endpoint.
	ErrConnectFailed = errors.New("connect failed")

	// ErrDuplicateName is the (locally observed, never put on the wire)
	// condition of a RegisterParticipant whose name is already taken.
	ErrDuplicateName = errors.New("duplicate participant name")
)
