package runison

// Config is the read-only configuration for one synchronization
// session. It is parsed from TOML by internal/config and handed to
// the indexstore, server, and participant packages; nothing in this
// package or its siblings reads the TOML file directly.
type Config struct {
	// RootPath is the absolute directory whose subtree is synchronized.
	RootPath string

	// Directories, if non-empty, restricts the walk to these
	// subtrees of RootPath instead of the whole tree.
	Directories []string

	// IgnoreName holds glob patterns matched against entry basenames.
	IgnoreName []string

	// IgnorePath holds glob patterns matched against full (absolute)
	// entry paths.
	IgnorePath []string

	// ListenNet and ListenAddr are not set by internal/config and not
	// read by cmd/runison-server, which takes the listen network and
	// address from its -l and -p flags; the core transport package
	// takes them as explicit arguments rather than reading Config.
	ListenNet  string
	ListenAddr string
}
