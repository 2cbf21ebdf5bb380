// Package config loads a runison.Config from a TOML file. It is the
// one place in this repo that reads the configuration file directly;
// every other package takes a *runison.Config as an argument.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/bketelsen/runison"
)

// fileConfig mirrors the TOML document shape from the external
// interface description: a [root] table, a [path] table, and an
// [ignore] table.
type fileConfig struct {
	Root struct {
		Path string `toml:"path"`
	} `toml:"root"`
	Path struct {
		Directories []string `toml:"directories"`
	} `toml:"path"`
	Ignore struct {
		Name []string `toml:"name"`
		Path []string `toml:"path"`
	} `toml:"ignore"`
}

// Load reads and validates the TOML file at path, returning a
// runison.Config. A missing root path, or a file that fails to parse,
// produces ErrConfigInvalid.
func Load(path string) (*runison.Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, errors.Wrapf(runison.ErrConfigInvalid, "parsing %s: %v", path, err)
	}
	if fc.Root.Path == "" {
		return nil, errors.Wrapf(runison.ErrConfigInvalid, "%s: [root] path is required", path)
	}

	return &runison.Config{
		RootPath:    fc.Root.Path,
		Directories: fc.Path.Directories,
		IgnoreName:  fc.Ignore.Name,
		IgnorePath:  fc.Ignore.Path,
	}, nil
}
