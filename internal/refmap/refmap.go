// Package refmap resolves symbolic member references used by injection point
// selectors into the names actually present in target bytecode, and provides
// the selector matching primitives built on top of that resolution.
package refmap

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/jweave/internal/debug"
)

// RefMap is a context-keyed string-rewrite table. The context is usually the
// mixin class name; references not present in the table pass through
// unchanged. A freshly constructed RefMap is the "default" refmap, which the
// permissive-fallback gate treats as inactive.
type RefMap struct {
	mappings map[string]map[string]string
}

// NewRefMap creates an empty (default) reference map.
func NewRefMap() *RefMap {
	return &RefMap{mappings: make(map[string]map[string]string)}
}

// IsDefault reports whether no mappings have been loaded.
func (rm *RefMap) IsDefault() bool {
	return len(rm.mappings) == 0
}

// Put registers one mapping under a context.
func (rm *RefMap) Put(context, ref, resolved string) {
	ctx, ok := rm.mappings[context]
	if !ok {
		ctx = make(map[string]string)
		rm.mappings[context] = ctx
	}
	ctx[ref] = resolved
}

// Remap resolves a symbolic reference in the given context. Unmapped
// references are returned unchanged.
func (rm *RefMap) Remap(context, ref string) string {
	if ctx, ok := rm.mappings[context]; ok {
		if resolved, ok := ctx[ref]; ok {
			debug.Printf("remapped %s -> %s (context %s)", ref, resolved, context)
			return resolved
		}
	}
	return ref
}

// RemapSelector resolves a reference and parses the result as a member
// selector.
func (rm *RefMap) RemapSelector(context, ref string) (*MemberSelector, error) {
	return ParseSelector(rm.Remap(context, ref))
}

// PermissiveFallbackActive reports whether permissive member matching may be
// attempted: only when remapping with permissive fallback is enabled and a
// non-default refmap is loaded. In a development environment with no
// mappings, fuzzy matching would mask genuine selector errors.
func (rm *RefMap) PermissiveFallbackActive(remapWithPermissive bool) bool {
	return remapWithPermissive && !rm.IsDefault()
}

// tomlRefMap is the on-disk overlay shape:
//
//	[mappings."mixins/ExampleMixin"]
//	"method_31415" = "Lnet/game/Entity;tick()V"
type tomlRefMap struct {
	Mappings map[string]map[string]string `toml:"mappings"`
}

// LoadTOML merges a TOML mapping overlay into the refmap. Later overlays win
// on key collisions.
func (rm *RefMap) LoadTOML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read refmap overlay: %w", err)
	}
	var overlay tomlRefMap
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse refmap overlay: %w", err)
	}
	for context, refs := range overlay.Mappings {
		for ref, resolved := range refs {
			rm.Put(context, ref, resolved)
		}
	}
	return nil
}

// LoadTOMLFile merges a TOML mapping overlay from disk.
func (rm *RefMap) LoadTOMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open refmap overlay %s: %w", path, err)
	}
	defer f.Close()
	return rm.LoadTOML(f)
}
