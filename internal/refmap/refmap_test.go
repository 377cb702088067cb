package refmap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemapPassthrough(t *testing.T) {
	rm := NewRefMap()
	assert.True(t, rm.IsDefault())
	assert.Equal(t, "method_31415", rm.Remap("mixins/X", "method_31415"))
}

func TestRemapResolved(t *testing.T) {
	rm := NewRefMap()
	rm.Put("mixins/X", "method_31415", "Lnet/game/Entity;tick()V")

	assert.False(t, rm.IsDefault())
	assert.Equal(t, "Lnet/game/Entity;tick()V", rm.Remap("mixins/X", "method_31415"))
	// context isolation
	assert.Equal(t, "method_31415", rm.Remap("mixins/Y", "method_31415"))

	sel, err := rm.RemapSelector("mixins/X", "method_31415")
	require.NoError(t, err)
	assert.Equal(t, "net/game/Entity", sel.Owner)
	assert.Equal(t, "tick", sel.Name)
}

func TestPermissiveFallbackGate(t *testing.T) {
	rm := NewRefMap()
	// default refmap never activates the fallback, even when requested
	assert.False(t, rm.PermissiveFallbackActive(true))
	assert.False(t, rm.PermissiveFallbackActive(false))

	rm.Put("mixins/X", "a", "b")
	assert.True(t, rm.PermissiveFallbackActive(true))
	assert.False(t, rm.PermissiveFallbackActive(false))
}

func TestLoadTOML(t *testing.T) {
	overlay := `
[mappings."mixins/ExampleMixin"]
"method_31415" = "Lnet/game/Entity;tick()V"
"field_2718" = "Lnet/game/Entity;health:I"

[mappings."mixins/OtherMixin"]
"method_31415" = "Lnet/game/World;update()V"
`
	rm := NewRefMap()
	require.NoError(t, rm.LoadTOML(strings.NewReader(overlay)))

	assert.Equal(t, "Lnet/game/Entity;tick()V", rm.Remap("mixins/ExampleMixin", "method_31415"))
	assert.Equal(t, "Lnet/game/Entity;health:I", rm.Remap("mixins/ExampleMixin", "field_2718"))
	assert.Equal(t, "Lnet/game/World;update()V", rm.Remap("mixins/OtherMixin", "method_31415"))
}

func TestLoadTOMLInvalid(t *testing.T) {
	rm := NewRefMap()
	err := rm.LoadTOML(strings.NewReader("mappings = ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse refmap overlay")
}
