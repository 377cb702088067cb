package injection

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// Target wraps one target method for the duration of applying one mixin set:
// the instruction list, computed argument and return types, and the live node
// registry for that method. Every insert/replace/remove goes through the
// Target so the registry stays consistent with the list.
type Target struct {
	ClassName string
	Method    *bytecode.MethodNode
	Args      []bytecode.Type
	Return    bytecode.Type

	registry  *Registry
	maxStack  int
	maxLocals int
}

// NewTarget wraps a method of the named class.
func NewTarget(className string, m *bytecode.MethodNode) (*Target, error) {
	args, ret, err := bytecode.ParseMethodDescriptor(m.Desc)
	if err != nil {
		return nil, fmt.Errorf("target %s.%s: %w", className, m.Name, err)
	}
	return &Target{
		ClassName: className,
		Method:    m,
		Args:      args,
		Return:    ret,
		registry:  NewRegistry(),
		maxStack:  m.MaxStack,
		maxLocals: m.MaxLocals,
	}, nil
}

// IsStatic reports whether the wrapped method is static.
func (t *Target) IsStatic() bool { return t.Method.IsStatic() }

// IsCtor reports whether the wrapped method is a constructor.
func (t *Target) IsCtor() bool { return t.Method.IsConstructor() }

// Insns returns the method's instruction list.
func (t *Target) Insns() *bytecode.InsnList { return t.Method.Insns }

// Name returns name+descriptor for diagnostics.
func (t *Target) Name() string { return t.Method.Name + t.Method.Desc }

// ArgSlot returns the local variable slot of the i-th argument, accounting
// for the receiver and category-2 types.
func (t *Target) ArgSlot(i int) int {
	slot := 0
	if !t.IsStatic() {
		slot = 1
	}
	for j := 0; j < i; j++ {
		slot += t.Args[j].Size()
	}
	return slot
}

// FirstFreeLocal returns the first local slot past the receiver and
// arguments.
func (t *Target) FirstFreeLocal() int {
	return t.ArgSlot(len(t.Args))
}

// AllocLocals reserves n fresh local slots and returns the first.
func (t *Target) AllocLocals(n int) int {
	first := t.maxLocals
	t.maxLocals += n
	t.Method.MaxLocals = t.maxLocals
	return first
}

// ExtendStack raises the method's max stack by at least n operand slots.
func (t *Target) ExtendStack(n int) {
	t.maxStack += n
	t.Method.MaxStack = t.maxStack
}

// AddNode registers an instruction in the node registry (idempotent).
func (t *Target) AddNode(in *bytecode.Insn) *InjectionNode {
	return t.registry.Add(in)
}

// GetNode returns the node tracking in, or nil.
func (t *Target) GetNode(in *bytecode.Insn) *InjectionNode {
	return t.registry.Get(in)
}

// Nodes returns every registered node in creation order.
func (t *Target) Nodes() []*InjectionNode {
	return t.registry.Nodes()
}

// InsertBefore splices instructions into the list ahead of location.
func (t *Target) InsertBefore(location *bytecode.Insn, insns ...*bytecode.Insn) {
	for _, in := range insns {
		t.Method.Insns.InsertBefore(location, in)
	}
}

// InsertAfter splices instructions into the list following location,
// preserving the given order.
func (t *Target) InsertAfter(location *bytecode.Insn, insns ...*bytecode.Insn) {
	cursor := location
	for _, in := range insns {
		t.Method.Insns.InsertAfter(cursor, in)
		cursor = in
	}
}

// Replace substitutes old with the given sequence and records the identity
// change in the registry. An empty replacement is a removal.
func (t *Target) Replace(old *bytecode.Insn, with ...*bytecode.Insn) {
	if len(with) == 0 {
		t.Remove(old)
		return
	}
	t.InsertBefore(old, with...)
	t.Method.Insns.Remove(old)
	t.registry.Replace(old, with[0])
}

// Remove deletes an instruction from the list and marks its node removed.
func (t *Target) Remove(in *bytecode.Insn) {
	t.Method.Insns.Remove(in)
	t.registry.Remove(in)
}
