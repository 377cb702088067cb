package debug

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function
func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalOutput := output
	originalFile := logFile
	originalLevel := minLevel
	return func() {
		EnableDebug = originalDebug
		output = originalOutput
		logFile = originalFile
		minLevel = originalLevel
	}
}

func TestLevelFiltering(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)

	Infof("hidden info")
	Warnf("visible warning")
	Errorf("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "[WARN] visible warning")
	assert.Contains(t, out, "[ERROR] visible error")
}

func TestDebugDisabledByDefault(t *testing.T) {
	defer saveAndRestoreState()()
	os.Unsetenv("JWEAVE_DEBUG")

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Printf("debug line")
	assert.Empty(t, buf.String())
}

func TestDebugEnvOverride(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("JWEAVE_DEBUG", "1")

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Printf("traced %d", 42)
	assert.Contains(t, buf.String(), "[DEBUG] traced 42")
}

func TestBuildFlagOverride(t *testing.T) {
	defer saveAndRestoreState()()
	os.Unsetenv("JWEAVE_DEBUG")
	EnableDebug = "true"

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Printf("flag enabled")
	assert.Contains(t, buf.String(), "flag enabled")
}

func TestComponentTags(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)

	LogApply(LevelInfo, "merged %s", "method")
	LogInject(LevelWarn, "skipped %s", "handler")
	LogHierarchy(LevelInfo, "resolved %s", "super")

	out := buf.String()
	assert.Contains(t, out, "[INFO:APPLY] merged method")
	assert.Contains(t, out, "[WARN:INJECT] skipped handler")
	assert.Contains(t, out, "[INFO:HIERARCHY] resolved super")
}

func TestNilOutputDiscards(t *testing.T) {
	defer saveAndRestoreState()()

	SetOutput(nil)
	// must not panic
	Errorf("dropped")
}

func TestInitLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	path, err := InitLogFile()
	assert.NoError(t, err)
	defer os.Remove(path)

	SetLevel(LevelInfo)
	Infof("to file")
	assert.NoError(t, Close())

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
	assert.True(t, strings.Contains(path, "jweave-"))
}
