// Package config loads and validates the .jweave.kdl project configuration:
// where class trees live, how the applicator behaves and how diagnostics are
// emitted.
package config

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Config is the resolved project configuration.
type Config struct {
	Version int
	Project Project
	Apply   Apply
	Paths   Paths
	Watch   Watch
	Debug   Debug

	// RefMaps are TOML reference-map overlays, applied in order.
	RefMaps []string

	// Include/Exclude filter which class files are considered as transform
	// targets, as doublestar globs over slash-separated paths relative to
	// Paths.Classes. An empty include list includes everything.
	Include []string
	Exclude []string
}

// Project identifies the project on disk.
type Project struct {
	Root string
	Name string
}

// Apply holds the applicator policy knobs.
type Apply struct {
	// Export keeps generic signatures on merged members for decompiler
	// export runs.
	Export bool

	// InitMode is "default" (splice after the target's own initializers) or
	// "safe" (splice right after the super constructor call).
	InitMode string

	// Capture is the local-capture failure policy: "hard", "soft" or "stub".
	Capture string

	// Permissive enables fuzzy selector fallback when a refmap is loaded.
	Permissive bool

	// Workers bounds concurrent class transforms; 0 auto-detects.
	Workers int
}

// Paths locates the class trees.
type Paths struct {
	Classes string // target classes to transform
	Mixins  string // compiled mixin classes
	Output  string // transformed output tree
}

// Watch configures the rebuild-on-change mode.
type Watch struct {
	Enabled    bool
	DebounceMs int
}

// Debug configures diagnostic output.
type Debug struct {
	Level   string // "debug", "info", "warn", "error"
	LogFile bool   // redirect diagnostics to a temp log file
}

// Default returns the configuration used when no .jweave.kdl is present.
func Default() *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: "."},
		Apply: Apply{
			InitMode: "default",
			Capture:  "hard",
		},
		Paths: Paths{
			Classes: "classes",
			Mixins:  "mixins",
			Output:  "weaved",
		},
		Watch: Watch{DebounceMs: 200},
		Debug: Debug{Level: "info"},
	}
}

// ShouldProcess reports whether a class file path (slash-separated, relative
// to Paths.Classes) passes the include/exclude filters. Unparseable patterns
// are rejected by Validate; here they simply never match.
func (c *Config) ShouldProcess(rel string) bool {
	if len(c.Include) > 0 {
		included := false
		for _, p := range c.Include {
			if ok, _ := doublestar.Match(p, rel); ok {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	return true
}
