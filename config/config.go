// Package config loads named Instance presets from a TOML descriptor.
// spec.md carries no configuration format of its own (capabilities() is
// currently an empty bitset and load_executable always takes an
// explicit path/format pair), but a host embedding this module
// repeatedly against the same fixture image benefits from naming that
// pair once instead of re-typing it at every call site; this package is
// that convenience, not a substitute for the host-facing API in the
// root package.
//
// TOML was chosen, rather than a hand-rolled flag/env reader, because
// it is the one configuration-format dependency present anywhere in
// the retrieved example pack (maxnasonov-gvisor's go.mod).
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"ivee/ierr"
	"ivee/loader"
)

// Preset names one load_executable call: a path and a format.
type Preset struct {
	Path       string `toml:"path"`
	FormatName string `toml:"format"` // "bin", "elf64", or "any"
}

// Config is a named set of Presets plus the name of an optional default
// preset.
type Config struct {
	Presets       map[string]Preset `toml:"presets"`
	DefaultPreset string            `toml:"default_preset"`
}

// / Load parses a TOML file at path into a Config.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, ierr.New("config_load", ierr.IOError, err)
	}
	return &c, nil
}

// / Format resolves a Preset's textual format name to a loader.Format.
func (p Preset) Format() (loader.Format, error) {
	switch p.FormatName {
	case "bin":
		return loader.FormatBin, nil
	case "elf64":
		return loader.FormatELF64, nil
	case "any", "":
		return loader.FormatAny, nil
	default:
		return 0, ierr.New("config_format", ierr.InvalidArg, fmt.Errorf("unknown format %q", p.FormatName))
	}
}

// / Default returns the Config's default preset, if named and present.
func (c *Config) Default() (Preset, bool) {
	if c.DefaultPreset == "" {
		return Preset{}, false
	}
	p, ok := c.Presets[c.DefaultPreset]
	return p, ok
}
