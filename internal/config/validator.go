package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"

	jwerrors "github.com/standardbeagle/jweave/internal/errors"
)

// Validator validates configuration and applies smart defaults.
type Validator struct{}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates the configuration in place and fills in
// environment-dependent defaults.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if cfg.Project.Root == "" {
		return jwerrors.NewConfigError("project.root", "",
			errors.New("project root cannot be empty"))
	}
	if err := v.validateApply(&cfg.Apply); err != nil {
		return err
	}
	if cfg.Paths.Classes == "" {
		return jwerrors.NewConfigError("paths.classes", "",
			errors.New("class tree path cannot be empty"))
	}
	if cfg.Paths.Output == "" {
		return jwerrors.NewConfigError("paths.output", "",
			errors.New("output path cannot be empty"))
	}
	if cfg.Paths.Output == cfg.Paths.Classes {
		return jwerrors.NewConfigError("paths.output", cfg.Paths.Output,
			errors.New("output path must differ from the class tree"))
	}
	if cfg.Watch.DebounceMs < 0 {
		return jwerrors.NewConfigError("watch.debounce_ms",
			fmt.Sprint(cfg.Watch.DebounceMs), errors.New("debounce cannot be negative"))
	}
	switch cfg.Debug.Level {
	case "debug", "info", "warn", "error":
	default:
		return jwerrors.NewConfigError("debug.level", cfg.Debug.Level,
			errors.New(`level must be one of "debug", "info", "warn", "error"`))
	}
	for _, p := range append(append([]string{}, cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return jwerrors.NewConfigError("include/exclude", p,
				errors.New("invalid glob pattern"))
		}
	}

	if cfg.Apply.Workers == 0 {
		cfg.Apply.Workers = runtime.NumCPU()
		if cfg.Apply.Workers > 8 {
			cfg.Apply.Workers = 8
		}
	}
	return nil
}

func (v *Validator) validateApply(a *Apply) error {
	switch a.InitMode {
	case "default", "safe":
	default:
		return jwerrors.NewConfigError("apply.init_mode", a.InitMode,
			errors.New(`init mode must be "default" or "safe"`))
	}
	switch a.Capture {
	case "hard", "soft", "stub":
	default:
		return jwerrors.NewConfigError("apply.capture", a.Capture,
			errors.New(`capture policy must be "hard", "soft" or "stub"`))
	}
	if a.Workers < 0 {
		return jwerrors.NewConfigError("apply.workers", fmt.Sprint(a.Workers),
			errors.New("workers cannot be negative"))
	}
	return nil
}
