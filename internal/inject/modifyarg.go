package inject

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/injection"
)

// ModifyArg threads one argument of a matched invocation through the
// handler: arguments above the chosen index are spilled to locals, the
// handler transforms the value on top of the stack, and the spilled
// arguments are reloaded before the call proceeds.
type ModifyArg struct {
	// Index selects the argument to modify; -1 resolves it by handler type,
	// which requires exactly one argument of that type at the call site.
	Index int
}

func (m *ModifyArg) Description() string { return "modify argument" }

func (m *ModifyArg) AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error {
	return nil
}

func (m *ModifyArg) Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error) {
	call := node.Current()
	if call.Kind != bytecode.KindMethod {
		return false, info.invalidInjection(fmt.Errorf("modify argument requires an invocation, matched %s", call))
	}
	callArgs, _, err := bytecode.ParseMethodDescriptor(call.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	handlerArgs, handlerRet, err := bytecode.ParseMethodDescriptor(info.Handler.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	if len(handlerArgs) != 1 || handlerArgs[0].Desc != handlerRet.Desc {
		return false, info.invalidInjection(fmt.Errorf(
			"modify argument handler must have shape (T)T, has %s", info.Handler.Desc))
	}

	index, err := m.resolveIndex(info, callArgs, handlerRet)
	if err != nil {
		return false, err
	}

	// Spill the arguments stacked above the one being modified, transform,
	// then reload them in declaration order.
	var insns []*bytecode.Insn
	locals := make([]int, len(callArgs))
	for i := len(callArgs) - 1; i > index; i-- {
		locals[i] = t.AllocLocals(callArgs[i].Size())
		insns = append(insns, bytecode.VarInsn(callArgs[i].StoreOpcode(), locals[i]))
	}
	insns = append(insns, handlerCallSeq(info, t, callArgs[index:index+1])...)
	for i := index + 1; i < len(callArgs); i++ {
		insns = append(insns, bytecode.VarInsn(callArgs[i].LoadOpcode(), locals[i]))
	}
	t.InsertBefore(call, insns...)
	t.ExtendStack(2)
	debug.LogInject(debug.LevelDebug, "%s modifies argument %d of %s in %s.%s",
		info.HandlerRef(), index, call.MemberRef(), t.ClassName, t.Name())
	return true, nil
}

func (m *ModifyArg) resolveIndex(info *Info, callArgs []bytecode.Type, want bytecode.Type) (int, error) {
	if m.Index >= 0 {
		if m.Index >= len(callArgs) {
			return 0, info.invalidInjection(fmt.Errorf(
				"argument index %d out of range for call with %d argument(s)", m.Index, len(callArgs)))
		}
		if callArgs[m.Index].Desc != want.Desc {
			return 0, info.invalidInjection(fmt.Errorf(
				"argument %d has type %s, handler modifies %s", m.Index, callArgs[m.Index].Desc, want.Desc))
		}
		return m.Index, nil
	}
	found := -1
	for i, a := range callArgs {
		if a.Desc != want.Desc {
			continue
		}
		if found >= 0 {
			return 0, info.invalidInjection(fmt.Errorf(
				"call site has multiple %s arguments, explicit index required", want.Desc))
		}
		found = i
	}
	if found < 0 {
		return 0, info.invalidInjection(fmt.Errorf("call site has no %s argument", want.Desc))
	}
	return found, nil
}

// ModifyArgs hands the full argument list of a matched invocation to the
// handler as a mutable bundle. Arguments are spilled to locals, packed into
// the bundle with boxing, and unpacked back onto the stack after the handler
// runs.
type ModifyArgs struct{}

func (m *ModifyArgs) Description() string { return "modify arguments" }

func (m *ModifyArgs) AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error {
	return nil
}

func (m *ModifyArgs) Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error) {
	call := node.Current()
	if call.Kind != bytecode.KindMethod {
		return false, info.invalidInjection(fmt.Errorf("modify arguments requires an invocation, matched %s", call))
	}
	callArgs, _, err := bytecode.ParseMethodDescriptor(call.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	if len(callArgs) == 0 {
		return false, info.invalidInjection(fmt.Errorf("%s takes no arguments", call.MemberRef()))
	}

	argsDesc := "L" + ArgsClass + ";"
	wantDesc := "(" + argsDesc + ")V"
	if info.Handler.Desc != wantDesc {
		return false, info.invalidInjection(fmt.Errorf(
			"modify arguments handler must have shape (%s)V, has %s", argsDesc, info.Handler.Desc))
	}

	var insns []*bytecode.Insn
	locals := make([]int, len(callArgs))
	for i := len(callArgs) - 1; i >= 0; i-- {
		locals[i] = t.AllocLocals(callArgs[i].Size())
		insns = append(insns, bytecode.VarInsn(callArgs[i].StoreOpcode(), locals[i]))
	}

	bundle := t.AllocLocals(1)
	insns = append(insns,
		bytecode.LdcInsn(bytecode.StringConst(call.Desc)),
		bytecode.MethodInsn(bytecode.OpInvokestatic, ArgsClass, "of", "(Ljava/lang/String;)"+argsDesc),
		bytecode.VarInsn(bytecode.OpAstore, bundle),
	)
	for i, a := range callArgs {
		insns = append(insns,
			bytecode.VarInsn(bytecode.OpAload, bundle),
			pushIntInsn(i),
			bytecode.VarInsn(a.LoadOpcode(), locals[i]),
		)
		insns = append(insns, boxInsns(a)...)
		insns = append(insns, bytecode.MethodInsn(bytecode.OpInvokevirtual, ArgsClass,
			"set", "(ILjava/lang/Object;)V"))
	}

	if !info.Handler.IsStatic() {
		insns = append(insns, bytecode.VarInsn(bytecode.OpAload, 0))
	}
	insns = append(insns, bytecode.VarInsn(bytecode.OpAload, bundle), info.invokeHandler())

	for i, a := range callArgs {
		insns = append(insns,
			bytecode.VarInsn(bytecode.OpAload, bundle),
			pushIntInsn(i),
			bytecode.MethodInsn(bytecode.OpInvokevirtual, ArgsClass, "get", "(I)Ljava/lang/Object;"),
		)
		insns = append(insns, unboxInsns(a)...)
	}

	t.InsertBefore(call, insns...)
	t.ExtendStack(4)
	debug.LogInject(debug.LevelDebug, "%s modifies all %d argument(s) of %s in %s.%s",
		info.HandlerRef(), len(callArgs), call.MemberRef(), t.ClassName, t.Name())
	return true, nil
}
