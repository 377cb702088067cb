package inject

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
	"github.com/standardbeagle/jweave/internal/injection"
	"github.com/standardbeagle/jweave/internal/point"
)

// redirectClaim is the arbitration decoration: which redirector currently
// owns the instruction.
type redirectClaim struct {
	mixin    string
	handler  string
	priority int
	final    bool
}

var redirectKey = injection.NewKey[redirectClaim]("redirect.claim")

// Redirect rewrites a matched invocation, field access or object
// construction into a call to the handler. When several redirectors claim
// the same instruction, the higher numeric priority wins at discovery time;
// the losers skip with a warning at execution time.
type Redirect struct {
	Final bool

	// Field redirects only: array element mode and its scan bound.
	Array point.ArrayAccess
	Fuzz  int

	// Coerce marks handler argument positions allowed to substitute a
	// compatible type for the exact one. Array types never coerce.
	Coerce map[int]bool

	// WildcardCtor marks a constructor redirect declared without an explicit
	// descriptor; the applicator applies the zero-injection rule for these.
	WildcardCtor bool
}

func (r *Redirect) Description() string { return "redirect" }

func (r *Redirect) AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error {
	claim := redirectClaim{
		mixin:    info.Mixin,
		handler:  info.HandlerRef(),
		priority: info.Priority,
		final:    r.Final,
	}
	existing, ok := injection.Decoration(node, redirectKey)
	if !ok {
		injection.Decorate(node, redirectKey, claim)
		return nil
	}
	switch {
	case claim.priority > existing.priority:
		debug.LogInject(debug.LevelWarn, "%s (priority %d) displaces %s (priority %d) on %s",
			claim.handler, claim.priority, existing.handler, existing.priority, node)
		injection.Decorate(node, redirectKey, claim)
	case claim.priority == existing.priority && existing.final:
		return jwerrors.NewConflictError(t.Name(), node.Original().String(),
			existing.mixin+"."+existing.handler, claim.mixin+"."+claim.handler)
	default:
		debug.LogInject(debug.LevelWarn, "%s (priority %d) loses to %s (priority %d) on %s",
			claim.handler, claim.priority, existing.handler, existing.priority, node)
	}
	return nil
}

func (r *Redirect) Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error) {
	claim, _ := injection.Decoration(node, redirectKey)
	if claim.mixin != info.Mixin || claim.handler != info.HandlerRef() {
		debug.LogInject(debug.LevelWarn, "%s skipping %s: lost arbitration to %s",
			info.HandlerRef(), node, claim.handler)
		return false, nil
	}

	at := node.Current()
	switch {
	case at.Kind == bytecode.KindMethod:
		return r.injectInvoke(info, t, at)
	case at.Kind == bytecode.KindField:
		return r.injectField(info, t, at)
	case at.Kind == bytecode.KindType && at.Opcode == bytecode.OpNew:
		return r.injectCtor(info, t, at)
	}
	return false, info.invalidInjection(fmt.Errorf("cannot redirect %s", at))
}

func (r *Redirect) injectInvoke(info *Info, t *injection.Target, call *bytecode.Insn) (bool, error) {
	callArgs, callRet, err := bytecode.ParseMethodDescriptor(call.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	expected := callArgs
	if call.Opcode != bytecode.OpInvokestatic {
		expected = append([]bytecode.Type{bytecode.ObjectType(call.Owner)}, callArgs...)
	}
	if err := r.validateParams(info, expected, callRet); err != nil {
		return false, err
	}

	replaceWithHandler(info, t, call, expected)
	debug.LogInject(debug.LevelDebug, "%s redirected call %s in %s.%s",
		info.HandlerRef(), call.MemberRef(), t.ClassName, t.Name())
	return true, nil
}

func (r *Redirect) injectField(info *Info, t *injection.Target, field *bytecode.Insn) (bool, error) {
	fieldType, err := bytecode.ParseType(field.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	owner := bytecode.ObjectType(field.Owner)

	if r.Array != point.ArrayNone {
		return r.injectArrayAccess(info, t, field, fieldType)
	}

	var expected []bytecode.Type
	var ret bytecode.Type
	switch field.Opcode {
	case bytecode.OpGetstatic:
		ret = fieldType
	case bytecode.OpGetfield:
		expected = []bytecode.Type{owner}
		ret = fieldType
	case bytecode.OpPutstatic:
		expected = []bytecode.Type{fieldType}
		ret = bytecode.TypeVoid
	case bytecode.OpPutfield:
		expected = []bytecode.Type{owner, fieldType}
		ret = bytecode.TypeVoid
	}
	if err := r.validateParams(info, expected, ret); err != nil {
		return false, err
	}

	replaceWithHandler(info, t, field, expected)
	debug.LogInject(debug.LevelDebug, "%s redirected field access %s in %s.%s",
		info.HandlerRef(), field.MemberRef(), t.ClassName, t.Name())
	return true, nil
}

// injectArrayAccess redirects the array operation following a field load:
// the handler observes (array, index[, value]) instead of the raw array
// opcode. The field load itself stays in place.
func (r *Redirect) injectArrayAccess(info *Info, t *injection.Target, field *bytecode.Insn, fieldType bytecode.Type) (bool, error) {
	if fieldType.Sort != bytecode.SortArray {
		return false, info.invalidInjection(fmt.Errorf("array redirect on non-array field %s", field.MemberRef()))
	}
	elem := fieldType.ElementType()

	var wantOp int
	var expected []bytecode.Type
	var ret bytecode.Type
	switch r.Array {
	case point.ArrayGet:
		wantOp = elem.ArrayLoadOpcode()
		expected = []bytecode.Type{fieldType, bytecode.TypeInt}
		ret = elem
	case point.ArraySet:
		wantOp = elem.ArrayStoreOpcode()
		expected = []bytecode.Type{fieldType, bytecode.TypeInt, elem}
		ret = bytecode.TypeVoid
	case point.ArrayLength:
		wantOp = bytecode.OpArraylength
		expected = []bytecode.Type{fieldType}
		ret = bytecode.TypeInt
	}
	if err := r.validateParams(info, expected, ret); err != nil {
		return false, err
	}

	fuzz := r.Fuzz
	if fuzz <= 0 {
		fuzz = point.DefaultFuzz
	}
	op := field
	for i := 0; i < fuzz; i++ {
		op = t.Insns().NextReal(op)
		if op == nil {
			break
		}
		if op.Opcode == wantOp {
			replaceWithHandler(info, t, op, expected)
			debug.LogInject(debug.LevelDebug, "%s redirected array access on %s in %s.%s",
				info.HandlerRef(), field.MemberRef(), t.ClassName, t.Name())
			return true, nil
		}
	}
	return false, info.invalidInjection(fmt.Errorf(
		"no array operation found within %d instruction(s) of %s", fuzz, field.MemberRef()))
}

func (r *Redirect) injectCtor(info *Info, t *injection.Target, newInsn *bytecode.Insn) (bool, error) {
	ctor, ok := point.PairConstructors(t.Insns())[newInsn]
	if !ok {
		return false, info.invalidInjection(fmt.Errorf("NEW %s has no paired constructor call", newInsn.TypeName))
	}
	ctorArgs, _, err := bytecode.ParseMethodDescriptor(ctor.Desc)
	if err != nil {
		return false, info.invalidInjection(err)
	}
	ownerType := bytecode.ObjectType(newInsn.TypeName)
	if err := r.validateParams(info, ctorArgs, ownerType); err != nil {
		return false, err
	}

	// NEW;DUP;...;INVOKESPECIAL means the constructed value is consumed;
	// NEW;...;INVOKESPECIAL alone means it was built only to be discarded.
	dup := t.Insns().NextReal(newInsn)
	consumed := dup != nil && dup.Opcode == bytecode.OpDup

	t.Remove(newInsn)
	if consumed {
		t.Remove(dup)
	}

	seq := handlerCallSeq(info, t, ctorArgs)
	if consumed {
		// NEW can never yield null; a null from the handler would break the
		// target's implicit non-null contract, so fail fast instead.
		okLabel := bytecode.Label()
		seq = append(seq, bytecode.NewInsn(bytecode.OpDup),
			bytecode.JumpInsn(bytecode.OpIfnonnull, okLabel))
		seq = append(seq, throwInsns("java/lang/NullPointerException",
			fmt.Sprintf("%s constructor redirect returned null for %s",
				info.Mixin, newInsn.TypeName))...)
		seq = append(seq, okLabel)
	} else {
		pop := bytecode.OpPop
		if ownerType.Size() == 2 {
			pop = bytecode.OpPop2
		}
		seq = append(seq, bytecode.NewInsn(pop))
	}
	t.Replace(ctor, seq...)
	t.ExtendStack(2)
	debug.LogInject(debug.LevelDebug, "%s redirected construction of %s in %s.%s",
		info.HandlerRef(), newInsn.TypeName, t.ClassName, t.Name())
	return true, nil
}

// validateParams checks the handler descriptor against the expected
// parameter and return types, argument by argument, honoring per-argument
// coercion.
func (r *Redirect) validateParams(info *Info, expected []bytecode.Type, ret bytecode.Type) error {
	args, handlerRet, err := bytecode.ParseMethodDescriptor(info.Handler.Desc)
	if err != nil {
		return info.invalidInjection(err)
	}
	if len(args) != len(expected) {
		return info.invalidInjection(fmt.Errorf(
			"handler takes %d argument(s), redirect site requires %d", len(args), len(expected)))
	}
	for i := range expected {
		if args[i].Desc == expected[i].Desc {
			continue
		}
		if r.Coerce[i] && coercible(expected[i], args[i]) {
			debug.LogInject(debug.LevelDebug, "%s coerces argument %d: %s for %s",
				info.HandlerRef(), i, args[i].Desc, expected[i].Desc)
			continue
		}
		return info.invalidInjection(fmt.Errorf(
			"handler argument %d has type %s, redirect site requires %s",
			i, args[i].Desc, expected[i].Desc))
	}
	if handlerRet.Desc != ret.Desc {
		return info.invalidInjection(fmt.Errorf(
			"handler returns %s, redirect site requires %s", handlerRet.Desc, ret.Desc))
	}
	return nil
}

// coercible reports whether got may stand in for want under @Coerce rules:
// reference-for-reference or small-int widening. Array types never coerce.
func coercible(want, got bytecode.Type) bool {
	if want.Sort == bytecode.SortArray || got.Sort == bytecode.SortArray {
		return false
	}
	if want.IsReference() && got.IsReference() {
		return true
	}
	smallInt := func(t bytecode.Type) bool {
		switch t.Sort {
		case bytecode.SortBoolean, bytecode.SortByte, bytecode.SortShort,
			bytecode.SortChar, bytecode.SortInt:
			return true
		}
		return false
	}
	return smallInt(want) && smallInt(got)
}

// handlerCallSeq builds the instruction sequence calling the handler with
// the expected parameters already on the stack. Instance handlers need the
// receiver underneath the parameters, so the parameters are spilled to
// locals and reloaded above an ALOAD 0.
func handlerCallSeq(info *Info, t *injection.Target, params []bytecode.Type) []*bytecode.Insn {
	if info.Handler.IsStatic() {
		return []*bytecode.Insn{info.invokeHandler()}
	}
	var seq []*bytecode.Insn
	locals := make([]int, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		locals[i] = t.AllocLocals(params[i].Size())
		seq = append(seq, bytecode.VarInsn(params[i].StoreOpcode(), locals[i]))
	}
	seq = append(seq, bytecode.VarInsn(bytecode.OpAload, 0))
	for i := range params {
		seq = append(seq, bytecode.VarInsn(params[i].LoadOpcode(), locals[i]))
	}
	seq = append(seq, info.invokeHandler())
	return seq
}

// replaceWithHandler swaps one instruction for the handler call sequence.
func replaceWithHandler(info *Info, t *injection.Target, at *bytecode.Insn, params []bytecode.Type) {
	t.Replace(at, handlerCallSeq(info, t, params)...)
	t.ExtendStack(2)
}
