package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestMixinError(t *testing.T) {
	underlying := errors.New("shadow method not found")
	err := NewMixinError("mixins/RenderMixin", underlying).
		WithTarget("game/Renderer").
		WithMember("draw()V").
		WithRequired(true)

	if err.Type != ErrorTypeInvalidMixin {
		t.Errorf("Expected Type to be ErrorTypeInvalidMixin, got %v", err.Type)
	}
	if err.Target != "game/Renderer" {
		t.Errorf("Expected Target to be game/Renderer, got %s", err.Target)
	}
	if err.IsRecoverable() {
		t.Error("Expected required mixin error to be unrecoverable")
	}
	if !errors.Is(err, underlying) {
		t.Error("Expected Unwrap to reach the underlying error")
	}

	msg := err.Error()
	if msg != "invalid mixin mixins/RenderMixin targeting game/Renderer at draw()V: shadow method not found" {
		t.Errorf("Unexpected message: %s", msg)
	}
}

func TestMixinErrorRecoverableByDefault(t *testing.T) {
	err := NewMixinError("mixins/OptionalMixin", errors.New("missing target"))
	if !err.IsRecoverable() {
		t.Error("Expected non-required mixin error to be recoverable")
	}
}

func TestInjectionError(t *testing.T) {
	underlying := errors.New("descriptor mismatch")
	err := NewInjectionError("mixins/TickMixin", "onTick(Lgame/Ci;)V", underlying).
		WithMethod("tick()V")

	if err.Type != ErrorTypeInvalidInjection {
		t.Errorf("Expected Type to be ErrorTypeInvalidInjection, got %v", err.Type)
	}
	if err.Method != "tick()V" {
		t.Errorf("Expected Method to be tick()V, got %s", err.Method)
	}
	if !err.IsRecoverable() {
		t.Error("Expected non-required injection error to be recoverable")
	}
	if !errors.Is(err, underlying) {
		t.Error("Expected Unwrap to reach the underlying error")
	}
}

func TestCountError(t *testing.T) {
	err := NewCountError("mixins/TickMixin", "onTick(Lgame/Ci;)V",
		errors.New("expected at least 1 injection, got 0"))
	if err.Type != ErrorTypeInjectionCount {
		t.Errorf("Expected Type to be ErrorTypeInjectionCount, got %v", err.Type)
	}
}

func TestConflictError(t *testing.T) {
	err := NewConflictError("update()V", "invokevirtual game/World.tick()V",
		"mixins/A.onTick", "mixins/B.onTick")

	if err.Type != ErrorTypeConflict {
		t.Errorf("Expected Type to be ErrorTypeConflict, got %v", err.Type)
	}
	if err.IsRecoverable() {
		t.Error("Expected conflict error to always be unrecoverable")
	}

	msg := err.Error()
	for _, want := range []string{"update()V", "mixins/A.onTick", "mixins/B.onTick", "equal priority"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got %s", want, msg)
		}
	}
}

func TestClassLoadError(t *testing.T) {
	underlying := errors.New("not a class file")
	err := NewClassLoadError("game/Missing", underlying)

	if err.Type != ErrorTypeClassLoad {
		t.Errorf("Expected Type to be ErrorTypeClassLoad, got %v", err.Type)
	}
	if !errors.Is(err, underlying) {
		t.Error("Expected Unwrap to reach the underlying error")
	}
	if err.Error() != "failed to load class game/Missing: not a class file" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("priority", "-1", errors.New("must be non-negative"))
	msg := err.Error()
	if !strings.Contains(msg, "priority") || !strings.Contains(msg, `"-1"`) {
		t.Errorf("Unexpected message: %s", msg)
	}
}
