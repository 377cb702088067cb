// Package injection tracks the instruction nodes that injectors compete for
// inside one target method, and wraps the method itself in a Target handle
// that keeps the instruction list and the node registry consistent.
package injection

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// InjectionNode wraps one instruction in a target method. Multiple injectors
// may be registered against the same physical instruction; the node gives
// them a stable identity across replacement by whichever injector executes
// first.
type InjectionNode struct {
	id       int
	original *bytecode.Insn
	current  *bytecode.Insn
	dec      map[string]any
}

// ID returns the node's unique, monotonically assigned id.
func (n *InjectionNode) ID() int { return n.id }

// Original returns the instruction the node was created for.
func (n *InjectionNode) Original() *bytecode.Insn { return n.original }

// Current returns the instruction currently standing in for the original,
// or nil if it was removed.
func (n *InjectionNode) Current() *bytecode.Insn { return n.current }

// IsReplaced reports whether the current instruction differs from the
// original.
func (n *InjectionNode) IsReplaced() bool { return n.current != n.original }

// IsRemoved reports whether the instruction was removed outright.
func (n *InjectionNode) IsRemoved() bool { return n.current == nil }

// Matches reports whether in is the node's original or current instruction.
func (n *InjectionNode) Matches(in *bytecode.Insn) bool {
	return in != nil && (n.original == in || n.current == in)
}

func (n *InjectionNode) String() string {
	switch {
	case n.IsRemoved():
		return fmt.Sprintf("node#%d(removed, was %s)", n.id, n.original)
	case n.IsReplaced():
		return fmt.Sprintf("node#%d(%s, was %s)", n.id, n.current, n.original)
	default:
		return fmt.Sprintf("node#%d(%s)", n.id, n.original)
	}
}

// Key is a typed decoration key. Injectors use decorations to record
// ownership, priority and fuzz metadata on nodes for conflict arbitration;
// the generic key keeps each injector's metadata shape type-checked instead
// of funnelling everything through an untyped map.
type Key[T any] struct {
	name string
}

// NewKey creates a decoration key. Key names must be unique per concern.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Decorate attaches a typed value to a node.
func Decorate[T any](n *InjectionNode, k Key[T], v T) {
	if n.dec == nil {
		n.dec = make(map[string]any)
	}
	n.dec[k.name] = v
}

// Decoration reads a typed value from a node.
func Decoration[T any](n *InjectionNode, k Key[T]) (T, bool) {
	if v, ok := n.dec[k.name]; ok {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// HasDecoration reports whether a node carries the given key.
func HasDecoration[T any](n *InjectionNode, k Key[T]) bool {
	_, ok := n.dec[k.name]
	return ok
}
