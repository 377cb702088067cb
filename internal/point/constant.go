package point

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

// BeforeConstant matches constant-producing instructions whose decoded
// literal equals the configured discriminator. Exactly one discriminator must
// be set; otherwise the match degrades to type-only matching against
// TypeHint (the handler's own constant type).
//
// With ExpandZeroConditions, zero-comparison branch opcodes (IFLT, IFGE,
// IFGT, IFLE) count as occurrences of the constant zero, except when they
// directly follow a CMP-family opcode: those encode a three-way comparison
// result test, not a zero test.
type BeforeConstant struct {
	Null   bool
	Int    *int32
	Float  *float32
	Long   *int64
	Double *float64
	String *string
	Class  *string // internal class name

	ExpandZeroConditions bool
	TypeHint             bytecode.Type
	Ordinal              int
}

func (p BeforeConstant) discriminators() int {
	n := 0
	if p.Null {
		n++
	}
	for _, set := range []bool{p.Int != nil, p.Float != nil, p.Long != nil,
		p.Double != nil, p.String != nil, p.Class != nil} {
		if set {
			n++
		}
	}
	return n
}

func (p BeforeConstant) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	typeOnly := p.discriminators() != 1
	if typeOnly {
		debug.LogInject(debug.LevelDebug,
			"constant point has %d discriminators, degrading to type-only matching on %s",
			p.discriminators(), p.TypeHint.Desc)
	}

	expandZero := p.ExpandZeroConditions && (typeOnly || (p.Int != nil && *p.Int == 0))

	var matches []*bytecode.Insn
	var prev *bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		if in.IsPseudo() {
			continue
		}
		if cv, isNull, ok := decodeConstant(in); ok {
			if typeOnly {
				if p.matchesType(cv, isNull) {
					matches = append(matches, in)
				}
			} else if p.matchesValue(cv, isNull) {
				matches = append(matches, in)
			}
		} else if expandZero && isZeroCondition(in.Opcode) {
			if prev == nil || !bytecode.IsCompareOpcode(prev.Opcode) {
				matches = append(matches, in)
			}
		}
		prev = in
	}
	return applyOrdinal(matches, p.Ordinal)
}

func (p BeforeConstant) matchesValue(cv bytecode.ConstValue, isNull bool) bool {
	switch {
	case p.Null:
		return isNull
	case p.Int != nil:
		return !isNull && cv.Kind == bytecode.ConstInt && int32(cv.Int) == *p.Int
	case p.Float != nil:
		return !isNull && cv.Kind == bytecode.ConstFloat && float32(cv.Float) == *p.Float
	case p.Long != nil:
		return !isNull && cv.Kind == bytecode.ConstLong && cv.Int == *p.Long
	case p.Double != nil:
		return !isNull && cv.Kind == bytecode.ConstDouble && cv.Float == *p.Double
	case p.String != nil:
		return !isNull && cv.Kind == bytecode.ConstString && cv.Str == *p.String
	case p.Class != nil:
		return !isNull && cv.Kind == bytecode.ConstClass && cv.Str == *p.Class
	}
	return false
}

func (p BeforeConstant) matchesType(cv bytecode.ConstValue, isNull bool) bool {
	switch p.TypeHint.Sort {
	case bytecode.SortInt, bytecode.SortShort, bytecode.SortByte,
		bytecode.SortChar, bytecode.SortBoolean:
		return !isNull && cv.Kind == bytecode.ConstInt
	case bytecode.SortFloat:
		return !isNull && cv.Kind == bytecode.ConstFloat
	case bytecode.SortLong:
		return !isNull && cv.Kind == bytecode.ConstLong
	case bytecode.SortDouble:
		return !isNull && cv.Kind == bytecode.ConstDouble
	case bytecode.SortObject:
		if isNull {
			return true
		}
		switch p.TypeHint.Desc {
		case "Ljava/lang/String;":
			return cv.Kind == bytecode.ConstString
		case "Ljava/lang/Class;":
			return cv.Kind == bytecode.ConstClass
		}
		return false
	case bytecode.SortArray:
		return isNull
	}
	return false
}

// decodeConstant recognizes every constant-producing instruction form: ldc
// variants plus the immediate-load opcodes. The second result flags
// aconst_null.
func decodeConstant(in *bytecode.Insn) (bytecode.ConstValue, bool, bool) {
	switch {
	case in.Kind == bytecode.KindLdc:
		return in.Const, false, true
	case in.Opcode == bytecode.OpAconstNull:
		return bytecode.ConstValue{}, true, true
	case in.Opcode >= bytecode.OpIconstM1 && in.Opcode <= bytecode.OpIconst5:
		return bytecode.IntConst(int32(in.Opcode - bytecode.OpIconst0)), false, true
	case in.Opcode == bytecode.OpLconst0 || in.Opcode == bytecode.OpLconst1:
		return bytecode.LongConst(int64(in.Opcode - bytecode.OpLconst0)), false, true
	case in.Opcode >= bytecode.OpFconst0 && in.Opcode <= bytecode.OpFconst2:
		return bytecode.FloatConst(float32(in.Opcode - bytecode.OpFconst0)), false, true
	case in.Opcode == bytecode.OpDconst0 || in.Opcode == bytecode.OpDconst1:
		return bytecode.DoubleConst(float64(in.Opcode - bytecode.OpDconst0)), false, true
	case in.Kind == bytecode.KindIntOperand && in.Opcode != bytecode.OpNewarray:
		return bytecode.IntConst(int32(in.Operand)), false, true
	}
	return bytecode.ConstValue{}, false, false
}

// isZeroCondition reports the single-operand ordering branches that compare
// against an implicit zero.
func isZeroCondition(op int) bool {
	switch op {
	case bytecode.OpIflt, bytecode.OpIfge, bytecode.OpIfgt, bytecode.OpIfle:
		return true
	}
	return false
}
