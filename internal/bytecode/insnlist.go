package bytecode

// InsnList is an owned, mutable instruction sequence. It is backed by a
// slice rather than a linked list; logical positions stay stable because all
// engine bookkeeping tracks node identity, not indices.
type InsnList struct {
	insns []*Insn
}

// NewInsnList returns an empty instruction list.
func NewInsnList(insns ...*Insn) *InsnList {
	return &InsnList{insns: insns}
}

// Len returns the number of nodes, pseudo-nodes included.
func (l *InsnList) Len() int { return len(l.insns) }

// Get returns the node at index i.
func (l *InsnList) Get(i int) *Insn { return l.insns[i] }

// IndexOf returns the index of a node, or -1 if it is not in the list.
func (l *InsnList) IndexOf(in *Insn) int {
	for i, cur := range l.insns {
		if cur == in {
			return i
		}
	}
	return -1
}

// Contains reports whether the node is in the list.
func (l *InsnList) Contains(in *Insn) bool { return l.IndexOf(in) >= 0 }

// Append adds nodes to the end of the list.
func (l *InsnList) Append(insns ...*Insn) {
	l.insns = append(l.insns, insns...)
}

// InsertBefore inserts nodes immediately before ref. Panics if ref is not in
// the list; the applicator never operates on foreign nodes.
func (l *InsnList) InsertBefore(ref *Insn, insns ...*Insn) {
	i := l.mustIndex(ref)
	l.insertAt(i, insns)
}

// InsertAfter inserts nodes immediately after ref.
func (l *InsnList) InsertAfter(ref *Insn, insns ...*Insn) {
	i := l.mustIndex(ref)
	l.insertAt(i+1, insns)
}

func (l *InsnList) insertAt(i int, insns []*Insn) {
	l.insns = append(l.insns[:i], append(append([]*Insn{}, insns...), l.insns[i:]...)...)
}

// Remove deletes a node from the list. Returns false if it was not present.
func (l *InsnList) Remove(in *Insn) bool {
	i := l.IndexOf(in)
	if i < 0 {
		return false
	}
	l.insns = append(l.insns[:i], l.insns[i+1:]...)
	return true
}

// Replace swaps old for new in place, preserving position. Returns false if
// old was not present.
func (l *InsnList) Replace(old, new *Insn) bool {
	i := l.IndexOf(old)
	if i < 0 {
		return false
	}
	l.insns[i] = new
	return true
}

// All returns the backing slice for iteration. Callers must not mutate it;
// use the insert/remove operations instead.
func (l *InsnList) All() []*Insn { return l.insns }

// First returns the first node, or nil for an empty list.
func (l *InsnList) First() *Insn {
	if len(l.insns) == 0 {
		return nil
	}
	return l.insns[0]
}

// Last returns the last node, or nil for an empty list.
func (l *InsnList) Last() *Insn {
	if len(l.insns) == 0 {
		return nil
	}
	return l.insns[len(l.insns)-1]
}

// Next returns the node after in, or nil at the end of the list.
func (l *InsnList) Next(in *Insn) *Insn {
	i := l.IndexOf(in)
	if i < 0 || i+1 >= len(l.insns) {
		return nil
	}
	return l.insns[i+1]
}

// Prev returns the node before in, or nil at the start of the list.
func (l *InsnList) Prev(in *Insn) *Insn {
	i := l.IndexOf(in)
	if i <= 0 {
		return nil
	}
	return l.insns[i-1]
}

// NextReal returns the next non-pseudo node after in, or nil.
func (l *InsnList) NextReal(in *Insn) *Insn {
	i := l.IndexOf(in)
	if i < 0 {
		return nil
	}
	for j := i + 1; j < len(l.insns); j++ {
		if !l.insns[j].IsPseudo() {
			return l.insns[j]
		}
	}
	return nil
}

// PrevReal returns the previous non-pseudo node before in, or nil.
func (l *InsnList) PrevReal(in *Insn) *Insn {
	i := l.IndexOf(in)
	if i < 0 {
		return nil
	}
	for j := i - 1; j >= 0; j-- {
		if !l.insns[j].IsPseudo() {
			return l.insns[j]
		}
	}
	return nil
}

// Slice returns the nodes in [from, to), by node boundaries. Both ends must
// be in the list; to == nil means through the end.
func (l *InsnList) Slice(from, to *Insn) []*Insn {
	start := l.mustIndex(from)
	end := len(l.insns)
	if to != nil {
		end = l.mustIndex(to)
	}
	out := make([]*Insn, end-start)
	copy(out, l.insns[start:end])
	return out
}

func (l *InsnList) mustIndex(in *Insn) int {
	i := l.IndexOf(in)
	if i < 0 {
		panic("bytecode: instruction not in list: " + in.String())
	}
	return i
}

// CloneList deep-copies a run of instructions, remapping jump, switch and
// try-catch label references that point inside the run. Labels referenced
// from outside the run are left aliased to the originals.
func CloneList(insns []*Insn) []*Insn {
	mapped := make(map[*Insn]*Insn, len(insns))
	out := make([]*Insn, len(insns))
	for i, in := range insns {
		cp := in.Clone()
		mapped[in] = cp
		out[i] = cp
	}
	remap := func(in *Insn) *Insn {
		if m, ok := mapped[in]; ok {
			return m
		}
		return in
	}
	for _, cp := range out {
		if cp.Target != nil {
			cp.Target = remap(cp.Target)
		}
		if cp.Default != nil {
			cp.Default = remap(cp.Default)
		}
		if cp.Targets != nil {
			// The shallow copy shares the Targets slice with the original;
			// detach before remapping.
			own := make([]*Insn, len(cp.Targets))
			for i, t := range cp.Targets {
				own[i] = remap(t)
			}
			cp.Targets = own
		}
	}
	return out
}
