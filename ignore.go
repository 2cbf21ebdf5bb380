package runison

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// builtinIgnore is always applied, in addition to whatever the
// configuration specifies, so the tool's own snapshot files never
// show up in an index.
const builtinIgnore = ".runison-*"

// Ignore decides whether the entry at absPath (with basename base)
// should be skipped during a walk. It applies, in order: every
// ignore.path glob against absPath, the built-in .runison-* glob
// against base, then every ignore.name glob against base. Any match
// returns true. In ignore.path globs, '*', '?' and character classes
// also match the path separator, so "*/cache/*" matches
// "/root/cache/x". A malformed glob anywhere in the list fails the
// whole call with ErrBadIgnorePattern; callers should treat that as
// fatal for the session, per the error handling design.
func Ignore(cfg *Config, absPath, base string) (bool, error) {
	sep := string(filepath.Separator)
	for _, pat := range cfg.IgnorePath {
		// filepath.Match never lets a wildcard cross a separator; map
		// separators to an ordinary byte on both sides first.
		matched, err := filepath.Match(strings.ReplaceAll(pat, sep, "\x00"), strings.ReplaceAll(absPath, sep, "\x00"))
		if err != nil {
			return false, errors.Wrapf(ErrBadIgnorePattern, "ignore.path %q: %v", pat, err)
		}
		if matched {
			return true, nil
		}
	}

	if matched, err := filepath.Match(builtinIgnore, base); err != nil {
		return false, errors.Wrapf(ErrBadIgnorePattern, "builtin pattern %q: %v", builtinIgnore, err)
	} else if matched {
		return true, nil
	}

	for _, pat := range cfg.IgnoreName {
		matched, err := filepath.Match(pat, base)
		if err != nil {
			return false, errors.Wrapf(ErrBadIgnorePattern, "ignore.name %q: %v", pat, err)
		}
		if matched {
			return true, nil
		}
	}

	return false, nil
}
