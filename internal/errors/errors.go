package errors

import (
	"fmt"
	"time"
)

// Error types for the jweave transform pipeline.
type ErrorType string

const (
	// Mixin structure errors
	ErrorTypeInvalidMixin ErrorType = "invalid_mixin"

	// Injection errors
	ErrorTypeInvalidInjection ErrorType = "invalid_injection"
	ErrorTypeInjectionCount   ErrorType = "injection_count"

	// Arbitration errors
	ErrorTypeConflict ErrorType = "conflict"

	// Class loading / hierarchy errors (logged, never propagated)
	ErrorTypeClassLoad ErrorType = "class_load"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// MixinError represents a structural problem in a mixin class: signature
// mismatch, unsupported initializer opcode, conflicting constraints or a
// missing required correspondence. It aborts the offending mixin; Required
// promotes it to a fatal, process-visible error.
type MixinError struct {
	Type       ErrorType
	Mixin      string
	Target     string
	Member     string
	Underlying error
	Required   bool
	Timestamp  time.Time
}

// NewMixinError creates a mixin structure error.
func NewMixinError(mixin string, err error) *MixinError {
	return &MixinError{
		Type:       ErrorTypeInvalidMixin,
		Mixin:      mixin,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithTarget adds target class context.
func (e *MixinError) WithTarget(target string) *MixinError {
	e.Target = target
	return e
}

// WithMember adds member context (name+descriptor).
func (e *MixinError) WithMember(member string) *MixinError {
	e.Member = member
	return e
}

// WithRequired marks the error as coming from a required mixin.
func (e *MixinError) WithRequired(required bool) *MixinError {
	e.Required = required
	return e
}

func (e *MixinError) Error() string {
	switch {
	case e.Member != "" && e.Target != "":
		return fmt.Sprintf("invalid mixin %s targeting %s at %s: %v", e.Mixin, e.Target, e.Member, e.Underlying)
	case e.Target != "":
		return fmt.Sprintf("invalid mixin %s targeting %s: %v", e.Mixin, e.Target, e.Underlying)
	default:
		return fmt.Sprintf("invalid mixin %s: %v", e.Mixin, e.Underlying)
	}
}

func (e *MixinError) Unwrap() error { return e.Underlying }

// IsRecoverable reports whether the embedding pipeline may continue with the
// mixin dropped.
func (e *MixinError) IsRecoverable() bool { return !e.Required }

// InjectionError represents a per-injector failure: handler descriptor
// mismatch, conflicting discriminators, a missing required injection point,
// or a require/expect/allow count violation.
type InjectionError struct {
	Type       ErrorType
	Mixin      string
	Handler    string // mixin handler method name+desc
	Method     string // target method name+desc, if known
	Underlying error
	Required   bool
	Timestamp  time.Time
}

// NewInjectionError creates an invalid-injection error.
func NewInjectionError(mixin, handler string, err error) *InjectionError {
	return &InjectionError{
		Type:       ErrorTypeInvalidInjection,
		Mixin:      mixin,
		Handler:    handler,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewCountError creates an injection-count violation error, raised after all
// of a mixin's injectors finish attempting their targets.
func NewCountError(mixin, handler string, err error) *InjectionError {
	e := NewInjectionError(mixin, handler, err)
	e.Type = ErrorTypeInjectionCount
	return e
}

// WithMethod adds the target method context.
func (e *InjectionError) WithMethod(method string) *InjectionError {
	e.Method = method
	return e
}

// WithRequired marks the error as coming from a required mixin.
func (e *InjectionError) WithRequired(required bool) *InjectionError {
	e.Required = required
	return e
}

func (e *InjectionError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("injection %s in %s failed for %s: %v", e.Handler, e.Mixin, e.Method, e.Underlying)
	}
	return fmt.Sprintf("injection %s in %s failed: %v", e.Handler, e.Mixin, e.Underlying)
}

func (e *InjectionError) Unwrap() error { return e.Underlying }

// IsRecoverable reports whether the embedding pipeline may continue.
func (e *InjectionError) IsRecoverable() bool { return !e.Required }

// ConflictError represents an unresolvable arbitration between two injectors
// claiming the same instruction: equal priority where the already-applied
// side is marked final. Always fatal regardless of required status.
type ConflictError struct {
	Type        ErrorType
	Method      string
	Instruction string
	Incumbent   string // owner description of the applied injector
	Challenger  string
	Timestamp   time.Time
}

// NewConflictError creates an arbitration conflict error.
func NewConflictError(method, instruction, incumbent, challenger string) *ConflictError {
	return &ConflictError{
		Type:        ErrorTypeConflict,
		Method:      method,
		Instruction: instruction,
		Incumbent:   incumbent,
		Challenger:  challenger,
		Timestamp:   time.Now(),
	}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s in %s: %s and %s have equal priority and the applied injection is final",
		e.Instruction, e.Method, e.Incumbent, e.Challenger)
}

// IsRecoverable always reports false; an equal-priority final conflict is a
// genuine two-mixin incompatibility, not an ordering preference.
func (e *ConflictError) IsRecoverable() bool { return false }

// ClassLoadError represents a failure to load or parse a class for hierarchy
// model construction. It is logged and degraded to an empty model, never
// propagated out of a transform.
type ClassLoadError struct {
	Type       ErrorType
	ClassName  string
	Underlying error
	Timestamp  time.Time
}

// NewClassLoadError creates a class load error.
func NewClassLoadError(className string, err error) *ClassLoadError {
	return &ClassLoadError{
		Type:       ErrorTypeClassLoad,
		ClassName:  className,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *ClassLoadError) Error() string {
	return fmt.Sprintf("failed to load class %s: %v", e.ClassName, e.Underlying)
}

func (e *ClassLoadError) Unwrap() error { return e.Underlying }

// ConfigError represents a configuration error.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a config error.
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s with value %q: %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }
