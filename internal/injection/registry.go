package injection

import "github.com/standardbeagle/jweave/internal/bytecode"

// Registry tracks injection nodes for one target method. Never shared across
// methods; lives for the discovery and rewrite passes of one application.
type Registry struct {
	nextID int
	nodes  []*InjectionNode
	byInsn map[*bytecode.Insn]*InjectionNode
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byInsn: make(map[*bytecode.Insn]*InjectionNode)}
}

// Add returns the node tracking in, creating one on first sight. Idempotent:
// adding an instruction already tracked (by original or current identity)
// returns the existing node.
func (r *Registry) Add(in *bytecode.Insn) *InjectionNode {
	if n, ok := r.byInsn[in]; ok {
		return n
	}
	n := &InjectionNode{id: r.nextID, original: in, current: in}
	r.nextID++
	r.nodes = append(r.nodes, n)
	r.byInsn[in] = n
	return n
}

// Get returns the node tracking in, or nil.
func (r *Registry) Get(in *bytecode.Insn) *InjectionNode {
	return r.byInsn[in]
}

// Replace records that old now stands as new. Both identities keep resolving
// to the node so injectors holding the original reference still find it.
func (r *Registry) Replace(old, new *bytecode.Insn) *InjectionNode {
	n, ok := r.byInsn[old]
	if !ok {
		n = r.Add(old)
	}
	n.current = new
	r.byInsn[new] = n
	return n
}

// Remove records that in's instruction is gone from the method.
func (r *Registry) Remove(in *bytecode.Insn) {
	if n, ok := r.byInsn[in]; ok {
		n.current = nil
	}
}

// Nodes returns all tracked nodes in creation order.
func (r *Registry) Nodes() []*InjectionNode {
	return r.nodes
}
