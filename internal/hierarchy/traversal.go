package hierarchy

// Traversal bounds how far a hierarchy query may cross from the "real"
// superclass chain into the mixin hierarchy attached to each node. Passing
// an explicit policy by value prevents mutual recursion between a mixin's
// real ancestry and the virtual ancestry implied by its targets.
type Traversal int

const (
	// TraversalNone never crosses into attached mixins.
	TraversalNone Traversal = iota
	// TraversalAll crosses into mixins at every node.
	TraversalAll
	// TraversalImmediate crosses into mixins only at the starting node.
	TraversalImmediate
	// TraversalSuper skips mixins at the starting node but crosses freely
	// from the first superclass onward. Bytecode verification wants real
	// ancestry at the subject class while member existence still honors
	// mixins merged into ancestors.
	TraversalSuper
)

// CanTraverse reports whether mixins attached to the current node may be
// searched.
func (t Traversal) CanTraverse() bool {
	return t == TraversalAll || t == TraversalImmediate
}

// Next returns the policy to carry into the next superclass hop.
func (t Traversal) Next() Traversal {
	switch t {
	case TraversalImmediate:
		return TraversalNone
	case TraversalSuper:
		return TraversalAll
	default:
		return t
	}
}

func (t Traversal) String() string {
	switch t {
	case TraversalNone:
		return "NONE"
	case TraversalAll:
		return "ALL"
	case TraversalImmediate:
		return "IMMEDIATE"
	case TraversalSuper:
		return "SUPER"
	}
	return "?"
}
