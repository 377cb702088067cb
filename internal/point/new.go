package point

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
)

// BeforeNew matches NEW instructions for a given type. When a constructor
// descriptor is specified, a pairing pass associates each NEW with the
// INVOKESPECIAL <init> that consumes it (nested allocations pair in LIFO
// order) and only NEW nodes whose paired call has exactly that descriptor
// survive.
type BeforeNew struct {
	TypeName string
	CtorDesc string // "" accepts any constructor
	Ordinal  int
}

func (p BeforeNew) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	var matches []*bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		if in.Kind == bytecode.KindType && in.Opcode == bytecode.OpNew && in.TypeName == p.TypeName {
			matches = append(matches, in)
		}
	}
	if p.CtorDesc != "" && len(matches) > 0 {
		ctors := PairConstructors(insns)
		filtered := matches[:0]
		for _, n := range matches {
			if ctor, ok := ctors[n]; ok && ctor.Desc == p.CtorDesc {
				filtered = append(filtered, n)
			}
		}
		matches = filtered
	}
	return applyOrdinal(matches, p.Ordinal)
}

// PairConstructors maps each NEW instruction to the INVOKESPECIAL <init>
// call that initializes it. Allocations nest, so an <init> call binds the
// most recent unpaired NEW of its owner type. The constructor redirector
// uses the same pairing to locate the call it rewrites.
func PairConstructors(insns *bytecode.InsnList) map[*bytecode.Insn]*bytecode.Insn {
	paired := make(map[*bytecode.Insn]*bytecode.Insn)
	var pending []*bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		switch {
		case in.Kind == bytecode.KindType && in.Opcode == bytecode.OpNew:
			pending = append(pending, in)
		case in.Kind == bytecode.KindMethod && in.Opcode == bytecode.OpInvokespecial && in.Name == "<init>":
			for i := len(pending) - 1; i >= 0; i-- {
				if pending[i].TypeName == in.Owner {
					paired[pending[i]] = in
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
		}
	}
	return paired
}
