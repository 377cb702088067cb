package bytecode

import "fmt"

// InsnKind discriminates the operand shape of an instruction node.
type InsnKind int

const (
	KindSimple InsnKind = iota // no operands
	KindIntOperand              // bipush, sipush, newarray
	KindVar                     // xLOAD/xSTORE/ret with a local index
	KindType                    // new, anewarray, checkcast, instanceof
	KindField                   // getfield/putfield/getstatic/putstatic
	KindMethod                  // invoke* except invokedynamic
	KindInvokeDynamic           // opaque call site, never an injection target
	KindJump                    // branches, goto, jsr
	KindLdc                     // ldc/ldc_w/ldc2_w
	KindIinc
	KindSwitch // tableswitch/lookupswitch
	KindMultiANewArray
	KindLabel // pseudo
	KindLine  // pseudo
	KindFrame // pseudo, carried opaquely
)

// ConstKind discriminates LDC constant payloads.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass
)

// ConstValue is a loadable constant-pool value.
type ConstValue struct {
	Kind  ConstKind
	Int   int64   // ConstInt, ConstLong
	Float float64 // ConstFloat, ConstDouble
	Str   string  // ConstString; internal class name for ConstClass
}

func IntConst(v int32) ConstValue     { return ConstValue{Kind: ConstInt, Int: int64(v)} }
func LongConst(v int64) ConstValue    { return ConstValue{Kind: ConstLong, Int: v} }
func FloatConst(v float32) ConstValue { return ConstValue{Kind: ConstFloat, Float: float64(v)} }
func DoubleConst(v float64) ConstValue {
	return ConstValue{Kind: ConstDouble, Float: v}
}
func StringConst(v string) ConstValue { return ConstValue{Kind: ConstString, Str: v} }
func ClassConst(internalName string) ConstValue {
	return ConstValue{Kind: ConstClass, Str: internalName}
}

// Insn is one node in a method's instruction list. Nodes are compared by
// pointer identity; the injection registry assigns stable ids on top of that.
// Which fields are meaningful depends on Kind.
type Insn struct {
	Opcode int // -1 for pseudo nodes
	Kind   InsnKind

	Operand int // KindIntOperand value, KindVar index, KindIinc index
	Incr    int // KindIinc increment

	TypeName string // KindType internal name

	Owner string // KindField / KindMethod
	Name  string
	Desc  string

	Const ConstValue // KindLdc

	Target *Insn // KindJump

	// KindSwitch
	Default *Insn
	Keys    []int32 // lookupswitch keys; nil for tableswitch
	Targets []*Insn
	Low     int32 // tableswitch bounds
	High    int32

	Line int // KindLine

	// BSM indexes the owning class's BootstrapMethods table for
	// KindInvokeDynamic nodes.
	BSM int

	Dims int // KindMultiANewArray dimension count
}

// InvokeDynamicInsn returns an invokedynamic node referencing a bootstrap
// method by table index.
func InvokeDynamicInsn(name, desc string, bsm int) *Insn {
	return &Insn{Opcode: OpInvokedynamic, Kind: KindInvokeDynamic, Name: name, Desc: desc, BSM: bsm}
}

// NewInsn returns a zero-operand instruction node.
func NewInsn(op int) *Insn { return &Insn{Opcode: op, Kind: KindSimple} }

// IntInsn returns a bipush/sipush/newarray node.
func IntInsn(op, operand int) *Insn {
	return &Insn{Opcode: op, Kind: KindIntOperand, Operand: operand}
}

// VarInsn returns a local variable load/store node.
func VarInsn(op, index int) *Insn {
	return &Insn{Opcode: op, Kind: KindVar, Operand: index}
}

// TypeInsn returns a new/anewarray/checkcast/instanceof node.
func TypeInsn(op int, internalName string) *Insn {
	return &Insn{Opcode: op, Kind: KindType, TypeName: internalName}
}

// FieldInsn returns a field access node.
func FieldInsn(op int, owner, name, desc string) *Insn {
	return &Insn{Opcode: op, Kind: KindField, Owner: owner, Name: name, Desc: desc}
}

// MethodInsn returns a method invocation node.
func MethodInsn(op int, owner, name, desc string) *Insn {
	return &Insn{Opcode: op, Kind: KindMethod, Owner: owner, Name: name, Desc: desc}
}

// JumpInsn returns a branch node targeting a label node.
func JumpInsn(op int, target *Insn) *Insn {
	return &Insn{Opcode: op, Kind: KindJump, Target: target}
}

// LdcInsn returns a constant load node. The writer picks ldc/ldc_w/ldc2_w.
func LdcInsn(v ConstValue) *Insn {
	return &Insn{Opcode: OpLdc, Kind: KindLdc, Const: v}
}

// IincInsn returns an iinc node.
func IincInsn(index, incr int) *Insn {
	return &Insn{Opcode: OpIinc, Kind: KindIinc, Operand: index, Incr: incr}
}

// Label returns a fresh label pseudo-node.
func Label() *Insn { return &Insn{Opcode: -1, Kind: KindLabel} }

// LineInsn returns a line-number pseudo-node.
func LineInsn(line int) *Insn {
	return &Insn{Opcode: -1, Kind: KindLine, Line: line}
}

// IsPseudo reports whether the node is a label, line or frame marker rather
// than a real instruction.
func (in *Insn) IsPseudo() bool {
	return in.Kind == KindLabel || in.Kind == KindLine || in.Kind == KindFrame
}

// MemberRef formats the owner/name/desc triple of field and method nodes.
func (in *Insn) MemberRef() string {
	return fmt.Sprintf("%s.%s%s", in.Owner, in.Name, formatDescSep(in))
}

func formatDescSep(in *Insn) string {
	if in.Kind == KindField {
		return ":" + in.Desc
	}
	return in.Desc
}

// String renders the node for diagnostics.
func (in *Insn) String() string {
	switch in.Kind {
	case KindLabel:
		return fmt.Sprintf("L%p", in)
	case KindLine:
		return fmt.Sprintf("line %d", in.Line)
	case KindFrame:
		return "frame"
	case KindField, KindMethod:
		return fmt.Sprintf("%s %s", OpcodeName(in.Opcode), in.MemberRef())
	case KindType:
		return fmt.Sprintf("%s %s", OpcodeName(in.Opcode), in.TypeName)
	case KindVar, KindIntOperand:
		return fmt.Sprintf("%s %d", OpcodeName(in.Opcode), in.Operand)
	case KindLdc:
		return fmt.Sprintf("ldc %v", in.Const)
	default:
		return OpcodeName(in.Opcode)
	}
}

// Clone returns a shallow copy of the node with its own identity. Jump and
// switch targets keep pointing at the original labels; callers splicing
// cloned ranges must remap labels via CloneList.
func (in *Insn) Clone() *Insn {
	cp := *in
	return &cp
}
