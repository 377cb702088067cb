package apply

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

// mergeAccessors generates bodies for the mixin's accessor and invoker
// stubs and merges them into the target. Runs at the start of the INJECT
// phase so the structural merge and discovery both complete first.
func (tr *transform) mergeAccessors(mx *Mixin) error {
	for _, m := range mx.Node.Methods {
		if !IsAccessor(m) {
			continue
		}
		var (
			generated *bytecode.MethodNode
			err       error
		)
		if m.FindAnnotation(AnnAccessor) != nil {
			generated, err = tr.generateAccessor(mx, m)
		} else {
			generated, err = tr.generateInvoker(mx, m)
		}
		if err != nil {
			return err
		}
		tr.installGenerated(mx, m, generated)
	}
	return nil
}

// generateAccessor builds a field getter or setter from an @Accessor stub.
// A ()T stub reads the field, a (T)V stub writes it.
func (tr *transform) generateAccessor(mx *Mixin, stub *bytecode.MethodNode) (*bytecode.MethodNode, error) {
	args, ret, err := bytecode.ParseMethodDescriptor(stub.Desc)
	if err != nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc, err).
			WithRequired(mx.Required)
	}

	var ft bytecode.Type
	setter := false
	switch {
	case len(args) == 0 && ret.Sort != bytecode.SortVoid:
		ft = ret
	case len(args) == 1 && ret.Sort == bytecode.SortVoid:
		ft = args[0]
		setter = true
	default:
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("accessor must have shape ()T or (T)V")).WithRequired(mx.Required)
	}

	ann := stub.FindAnnotation(AnnAccessor)
	name := ann.GetString("value", "")
	if name == "" {
		name = inferTarget(stub.Name, "get", "set", "is")
	}
	if name == "" {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("accessor target field cannot be inferred from %q", stub.Name)).
			WithRequired(mx.Required)
	}

	field := tr.target.FindField(name, ft.Desc)
	if field == nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("accessor target field %s:%s not found", name, ft.Desc)).
			WithRequired(mx.Required)
	}
	static := bytecode.IsStatic(field.Access)
	if static != stub.IsStatic() {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("accessor staticness does not match field %s", name)).
			WithRequired(mx.Required)
	}
	if setter && bytecode.IsFinal(field.Access) {
		if stub.FindAnnotation(AnnMutable) == nil {
			return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
				fmt.Errorf("setter targets final field %s without mutable", name)).
				WithRequired(mx.Required)
		}
		field.Access &^= bytecode.AccFinal
		debug.LogApply(debug.LevelDebug, "%s: stripped FINAL from %s.%s for accessor",
			mx.Node.Name, tr.target.Name, name)
	}

	body := bytecode.NewInsnList()
	slot := 0
	if !static {
		body.Append(bytecode.VarInsn(bytecode.OpAload, 0))
		slot = 1
	}
	switch {
	case setter && static:
		body.Append(bytecode.VarInsn(ft.LoadOpcode(), slot))
		body.Append(bytecode.FieldInsn(bytecode.OpPutstatic, tr.target.Name, name, ft.Desc))
		body.Append(bytecode.NewInsn(bytecode.OpReturn))
	case setter:
		body.Append(bytecode.VarInsn(ft.LoadOpcode(), slot))
		body.Append(bytecode.FieldInsn(bytecode.OpPutfield, tr.target.Name, name, ft.Desc))
		body.Append(bytecode.NewInsn(bytecode.OpReturn))
	case static:
		body.Append(bytecode.FieldInsn(bytecode.OpGetstatic, tr.target.Name, name, ft.Desc))
		body.Append(bytecode.NewInsn(ft.ReturnOpcode()))
	default:
		body.Append(bytecode.FieldInsn(bytecode.OpGetfield, tr.target.Name, name, ft.Desc))
		body.Append(bytecode.NewInsn(ft.ReturnOpcode()))
	}

	locals := slot
	if setter {
		locals += ft.Size()
	}
	return tr.generatedMethod(mx, stub, body, 1+ft.Size(), locals), nil
}

// generateInvoker builds a call-through from an @Invoker stub. The stub's
// descriptor must match the target method exactly.
func (tr *transform) generateInvoker(mx *Mixin, stub *bytecode.MethodNode) (*bytecode.MethodNode, error) {
	ann := stub.FindAnnotation(AnnInvoker)
	name := ann.GetString("value", "")
	if name == "" {
		name = inferTarget(stub.Name, "call", "invoke")
	}
	if name == "" {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("invoker target method cannot be inferred from %q", stub.Name)).
			WithRequired(mx.Required)
	}

	callee := tr.target.FindMethod(name, stub.Desc)
	if callee == nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("invoker target method %s%s not found", name, stub.Desc)).
			WithRequired(mx.Required)
	}
	static := callee.IsStatic()
	if static != stub.IsStatic() {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc,
			fmt.Errorf("invoker staticness does not match method %s", name)).
			WithRequired(mx.Required)
	}

	args, ret, err := bytecode.ParseMethodDescriptor(stub.Desc)
	if err != nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, stub.Name+stub.Desc, err).
			WithRequired(mx.Required)
	}

	body := bytecode.NewInsnList()
	slot := 0
	if !static {
		body.Append(bytecode.VarInsn(bytecode.OpAload, 0))
		slot = 1
	}
	for _, arg := range args {
		body.Append(bytecode.VarInsn(arg.LoadOpcode(), slot))
		slot += arg.Size()
	}
	op := bytecode.OpInvokevirtual
	switch {
	case static:
		op = bytecode.OpInvokestatic
	case bytecode.IsPrivate(callee.Access):
		op = bytecode.OpInvokespecial
	}
	body.Append(bytecode.MethodInsn(op, tr.target.Name, name, stub.Desc))
	body.Append(bytecode.NewInsn(ret.ReturnOpcode()))

	return tr.generatedMethod(mx, stub, body, slot+ret.Size(), slot), nil
}

// generatedMethod wraps a synthesized body in a concrete method carrying
// the stub's identity and the session merge marker.
func (tr *transform) generatedMethod(mx *Mixin, stub *bytecode.MethodNode, body *bytecode.InsnList, maxStack, maxLocals int) *bytecode.MethodNode {
	if maxStack < 1 {
		maxStack = 1
	}
	if maxLocals < 1 {
		maxLocals = 1
	}
	return &bytecode.MethodNode{
		Access:   (stub.Access &^ bytecode.AccAbstract) | bytecode.AccSynthetic,
		Name:     stub.Name,
		Desc:     stub.Desc,
		Insns:    body,
		MaxStack: maxStack, MaxLocals: maxLocals,
		Annotations: append(userAnnotations(stub.Annotations),
			mergedMarker(mx.Node.Name, tr.ap.Session, mx.Priority,
				stub.FindAnnotation(AnnFinal) != nil)),
	}
}

// installGenerated merges a synthesized method under the same arbitration
// as regular method merging.
func (tr *transform) installGenerated(mx *Mixin, stub, merged *bytecode.MethodNode) {
	if existing := tr.target.FindMethod(merged.Name, merged.Desc); existing != nil {
		if tr.arbitrateMerge(mx, stub, existing) == mergeSkip {
			return
		}
		tr.removeTargetMethod(existing)
	}
	tr.target.Methods = append(tr.target.Methods, merged)
	if tr.model.FindMethod(merged.Name, merged.Desc) == nil {
		tr.model.AddMethod(merged.Name, merged.Desc, merged.Access, true)
	}
	debug.LogApply(debug.LevelDebug, "%s: generated %s%s on %s",
		mx.Node.Name, merged.Name, merged.Desc, tr.target.Name)
}

// inferTarget strips a recognized accessor prefix and decapitalizes the
// remainder, "" when no prefix applies.
func inferTarget(methodName string, prefixes ...string) string {
	for _, p := range prefixes {
		rest, ok := strings.CutPrefix(methodName, p)
		if !ok || rest == "" {
			continue
		}
		if rest[0] >= 'A' && rest[0] <= 'Z' {
			return string(rest[0]+'a'-'A') + rest[1:]
		}
	}
	return ""
}
