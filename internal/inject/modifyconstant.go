package inject

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/injection"
)

// ModifyConstant threads a matched constant load through the handler, which
// receives the original value and returns the replacement. Zero-condition
// branches matched through expansion are rewritten into an explicit compare
// against the handler's result.
type ModifyConstant struct{}

func (m *ModifyConstant) Description() string { return "modify constant" }

func (m *ModifyConstant) AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error {
	return nil
}

func (m *ModifyConstant) Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error) {
	at := node.Current()
	if at.Kind == bytecode.KindJump {
		return m.injectCondition(info, t, at)
	}
	ct, ok := constantType(at)
	if !ok {
		return false, info.invalidInjection(fmt.Errorf("modify constant cannot handle %s", at))
	}
	if err := m.validateHandler(info, ct); err != nil {
		return false, err
	}

	// The constant is on top of the stack; an instance handler needs the
	// receiver underneath it, so spill and reload around the ALOAD 0.
	var insns []*bytecode.Insn
	if !info.Handler.IsStatic() {
		spill := t.AllocLocals(ct.Size())
		insns = append(insns,
			bytecode.VarInsn(ct.StoreOpcode(), spill),
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.VarInsn(ct.LoadOpcode(), spill),
		)
	}
	insns = append(insns, info.invokeHandler())
	t.InsertAfter(at, insns...)
	t.ExtendStack(2)
	debug.LogInject(debug.LevelDebug, "%s modifies constant %s in %s.%s",
		info.HandlerRef(), at, t.ClassName, t.Name())
	return true, nil
}

// injectCondition rewrites an implicit compare-against-zero branch: the
// handler receives zero, and the single-operand jump becomes a two-operand
// integer compare against the handler's result.
func (m *ModifyConstant) injectCondition(info *Info, t *injection.Target, jump *bytecode.Insn) (bool, error) {
	if err := m.validateHandler(info, bytecode.TypeInt); err != nil {
		return false, err
	}
	var twoOp int
	switch jump.Opcode {
	case bytecode.OpIflt:
		twoOp = bytecode.OpIfIcmplt
	case bytecode.OpIfge:
		twoOp = bytecode.OpIfIcmpge
	case bytecode.OpIfgt:
		twoOp = bytecode.OpIfIcmpgt
	case bytecode.OpIfle:
		twoOp = bytecode.OpIfIcmple
	default:
		return false, info.invalidInjection(fmt.Errorf(
			"modify constant cannot rewrite branch %s", bytecode.OpcodeName(jump.Opcode)))
	}

	var insns []*bytecode.Insn
	if !info.Handler.IsStatic() {
		insns = append(insns, bytecode.VarInsn(bytecode.OpAload, 0))
	}
	insns = append(insns, bytecode.NewInsn(bytecode.OpIconst0), info.invokeHandler())
	insns = append(insns, bytecode.JumpInsn(twoOp, jump.Target))
	t.Replace(jump, insns...)
	t.ExtendStack(2)
	debug.LogInject(debug.LevelDebug, "%s modifies zero condition in %s.%s",
		info.HandlerRef(), t.ClassName, t.Name())
	return true, nil
}

func (m *ModifyConstant) validateHandler(info *Info, ct bytecode.Type) error {
	args, ret, err := bytecode.ParseMethodDescriptor(info.Handler.Desc)
	if err != nil {
		return info.invalidInjection(err)
	}
	if len(args) != 1 || args[0].Desc != ct.Desc || ret.Desc != ct.Desc {
		return info.invalidInjection(fmt.Errorf(
			"modify constant handler must have shape (%s)%s, has %s", ct.Desc, ct.Desc, info.Handler.Desc))
	}
	return nil
}

// constantType derives the stack type a constant instruction pushes.
func constantType(in *bytecode.Insn) (bytecode.Type, bool) {
	switch {
	case in.Kind == bytecode.KindLdc:
		switch in.Const.Kind {
		case bytecode.ConstInt:
			return bytecode.TypeInt, true
		case bytecode.ConstLong:
			return bytecode.TypeLong, true
		case bytecode.ConstFloat:
			return bytecode.TypeFloat, true
		case bytecode.ConstDouble:
			return bytecode.TypeDouble, true
		case bytecode.ConstString:
			return bytecode.ObjectType("java/lang/String"), true
		case bytecode.ConstClass:
			return bytecode.ObjectType("java/lang/Class"), true
		}
	case in.Kind == bytecode.KindIntOperand && in.Opcode != bytecode.OpNewarray:
		return bytecode.TypeInt, true
	case in.Opcode >= bytecode.OpIconstM1 && in.Opcode <= bytecode.OpIconst5:
		return bytecode.TypeInt, true
	case in.Opcode == bytecode.OpLconst0 || in.Opcode == bytecode.OpLconst1:
		return bytecode.TypeLong, true
	case in.Opcode >= bytecode.OpFconst0 && in.Opcode <= bytecode.OpFconst2:
		return bytecode.TypeFloat, true
	case in.Opcode == bytecode.OpDconst0 || in.Opcode == bytecode.OpDconst1:
		return bytecode.TypeDouble, true
	case in.Opcode == bytecode.OpAconstNull:
		return bytecode.ObjectType("java/lang/Object"), true
	}
	return bytecode.Type{}, false
}
