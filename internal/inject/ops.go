package inject

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
)

// Runtime support classes referenced by generated code. The runtime jar
// supplying them is loaded alongside the transformed classes.
const (
	CallbackInfoClass           = "jweave/callback/CallbackInfo"
	CallbackInfoReturnableClass = "jweave/callback/CallbackInfoReturnable"
	ArgsClass                   = "jweave/callback/Args"

	callbackCtorDesc = "(Ljava/lang/String;Z)V"
)

// boxInsns converts the primitive on top of the stack to its wrapper.
// Reference types pass through untouched.
func boxInsns(t bytecode.Type) []*bytecode.Insn {
	if !t.IsPrimitive() {
		return nil
	}
	boxed := t.BoxedInternalName()
	return []*bytecode.Insn{
		bytecode.MethodInsn(bytecode.OpInvokestatic, boxed, "valueOf",
			"("+t.Desc+")L"+boxed+";"),
	}
}

// unboxInsns casts the Object on top of the stack to t, unboxing wrappers
// for primitive targets.
func unboxInsns(t bytecode.Type) []*bytecode.Insn {
	if t.IsPrimitive() {
		boxed := t.BoxedInternalName()
		return []*bytecode.Insn{
			bytecode.TypeInsn(bytecode.OpCheckcast, boxed),
			bytecode.MethodInsn(bytecode.OpInvokevirtual, boxed, t.UnboxMethod(), "()"+t.Desc),
		}
	}
	return []*bytecode.Insn{
		bytecode.TypeInsn(bytecode.OpCheckcast, t.InternalName()),
	}
}

// defaultValueInsn pushes the zero value of t.
func defaultValueInsn(t bytecode.Type) *bytecode.Insn {
	switch t.Sort {
	case bytecode.SortLong:
		return bytecode.NewInsn(bytecode.OpLconst0)
	case bytecode.SortFloat:
		return bytecode.NewInsn(bytecode.OpFconst0)
	case bytecode.SortDouble:
		return bytecode.NewInsn(bytecode.OpDconst0)
	case bytecode.SortObject, bytecode.SortArray:
		return bytecode.NewInsn(bytecode.OpAconstNull)
	default:
		return bytecode.NewInsn(bytecode.OpIconst0)
	}
}

// pushIntInsn pushes a small non-negative int using the most compact form.
func pushIntInsn(v int) *bytecode.Insn {
	switch {
	case v >= -1 && v <= 5:
		return bytecode.NewInsn(bytecode.OpIconst0 + v)
	case v >= -128 && v <= 127:
		return bytecode.IntInsn(bytecode.OpBipush, v)
	default:
		return bytecode.IntInsn(bytecode.OpSipush, v)
	}
}

// throwInsns builds a NEW/DUP/LDC/INVOKESPECIAL/ATHROW sequence for an
// exception type with a (String) constructor.
func throwInsns(exceptionType, message string) []*bytecode.Insn {
	return []*bytecode.Insn{
		bytecode.TypeInsn(bytecode.OpNew, exceptionType),
		bytecode.NewInsn(bytecode.OpDup),
		bytecode.LdcInsn(bytecode.StringConst(message)),
		bytecode.MethodInsn(bytecode.OpInvokespecial, exceptionType, "<init>", "(Ljava/lang/String;)V"),
		bytecode.NewInsn(bytecode.OpAthrow),
	}
}
