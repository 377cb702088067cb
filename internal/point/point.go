// Package point implements the injection point matchers: declarative
// selectors that scan a method's instruction list and produce the set of
// instructions an injector will rewrite.
package point

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
)

// InjectionPoint locates candidate instructions in one method. desc is the
// containing method's descriptor; implementations return matches in forward
// instruction-list order. Zero matches is not an error; the injector's count
// enforcement decides whether it is fatal.
type InjectionPoint interface {
	Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn
}

// applyOrdinal narrows a match set: ordinal -1 keeps all matches, k >= 0
// keeps exactly the k-th (zero-indexed) match or nothing.
func applyOrdinal(matches []*bytecode.Insn, ordinal int) []*bytecode.Insn {
	if ordinal < 0 {
		return matches
	}
	if ordinal < len(matches) {
		return matches[ordinal : ordinal+1]
	}
	return nil
}

// MethodHead matches the first instruction of the method, unconditionally.
type MethodHead struct{}

func (MethodHead) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	if first := insns.First(); first != nil {
		return []*bytecode.Insn{first}
	}
	return nil
}

// BeforeReturn matches every return instruction whose opcode corresponds to
// the method's actual return type.
type BeforeReturn struct {
	Ordinal int
}

func (p BeforeReturn) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	ret, err := bytecode.ReturnType(desc)
	if err != nil {
		return nil
	}
	want := ret.ReturnOpcode()
	var matches []*bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		if !in.IsPseudo() && in.Opcode == want {
			matches = append(matches, in)
		}
	}
	return applyOrdinal(matches, p.Ordinal)
}
