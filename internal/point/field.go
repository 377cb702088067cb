package point

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// ArrayAccess selects the optional array-element mode of a field match.
type ArrayAccess int

const (
	ArrayNone   ArrayAccess = iota
	ArrayGet                // field load followed by *ALOAD
	ArraySet                // field load followed by *ASTORE
	ArrayLength             // field load followed by ARRAYLENGTH
)

// DefaultFuzz bounds the forward scan from a field access to its array
// operation.
const DefaultFuzz = 8

// BeforeFieldAccess matches GETFIELD/PUTFIELD/GETSTATIC/PUTSTATIC on a field
// satisfying the selector. Opcode narrows to one access form (-1 for any).
// In an array mode, a match additionally requires the corresponding array
// operation within Fuzz real instructions after the field load; the scan
// halts early on an unrelated ARRAYLENGTH or on a repeated access of the
// same field, which signals an intervening unrelated use of the array.
type BeforeFieldAccess struct {
	Selector *refmap.MemberSelector
	Ordinal  int
	Opcode   int // -1 for any field opcode
	Array    ArrayAccess
	Fuzz     int // 0 means DefaultFuzz
}

func (p BeforeFieldAccess) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	var matches []*bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		if in.Kind != bytecode.KindField {
			continue
		}
		if p.Opcode >= 0 && in.Opcode != p.Opcode {
			continue
		}
		if !p.Selector.Matches(in.Owner, in.Name, in.Desc) {
			continue
		}
		if p.Array != ArrayNone && !p.matchArrayAccess(insns, in) {
			continue
		}
		matches = append(matches, in)
	}
	return applyOrdinal(matches, p.Ordinal)
}

func (p BeforeFieldAccess) matchArrayAccess(insns *bytecode.InsnList, field *bytecode.Insn) bool {
	fieldType, err := bytecode.ParseType(field.Desc)
	if err != nil || fieldType.Sort != bytecode.SortArray {
		return false
	}
	elem := fieldType.ElementType()

	var want int
	switch p.Array {
	case ArrayGet:
		want = elem.ArrayLoadOpcode()
	case ArraySet:
		want = elem.ArrayStoreOpcode()
	case ArrayLength:
		want = bytecode.OpArraylength
	}

	fuzz := p.Fuzz
	if fuzz <= 0 {
		fuzz = DefaultFuzz
	}

	in := field
	for i := 0; i < fuzz; i++ {
		in = insns.NextReal(in)
		if in == nil {
			return false
		}
		if in.Opcode == want {
			return true
		}
		if in.Opcode == bytecode.OpArraylength {
			// unrelated length query on the loaded array
			return false
		}
		if in.Kind == bytecode.KindField && in.Opcode == field.Opcode &&
			in.Owner == field.Owner && in.Name == field.Name && in.Desc == field.Desc {
			// the array was reloaded before being used
			return false
		}
	}
	return false
}
