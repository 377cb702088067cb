package point

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/refmap"
	"github.com/standardbeagle/jweave/testhelpers"
)

func insnList(insns ...*bytecode.Insn) *bytecode.InsnList {
	l := bytecode.NewInsnList()
	for _, in := range insns {
		l.Append(in)
	}
	return l
}

func TestMethodHeadAlwaysFirstInstruction(t *testing.T) {
	// five instructions; HEAD yields exactly one node at index 0
	list := insnList(
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V"),
		bytecode.NewInsn(bytecode.OpIconst0),
		bytecode.NewInsn(bytecode.OpPop),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	matches := MethodHead{}.Find("()V", list)
	require.Len(t, matches, 1)
	assert.Same(t, list.Get(0), matches[0])
}

func TestMethodHeadEmptyMethod(t *testing.T) {
	assert.Empty(t, MethodHead{}.Find("()V", bytecode.NewInsnList()))
}

func TestBeforeReturnMatchesTypedOpcode(t *testing.T) {
	list := insnList(
		bytecode.NewInsn(bytecode.OpIconst0),
		bytecode.NewInsn(bytecode.OpIreturn),
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.NewInsn(bytecode.OpIreturn),
		// an ARETURN in an int method is not a valid return site
		bytecode.NewInsn(bytecode.OpAreturn),
	)

	all := BeforeReturn{Ordinal: -1}.Find("()I", list)
	assert.Len(t, all, 2)

	second := BeforeReturn{Ordinal: 1}.Find("()I", list)
	require.Len(t, second, 1)
	assert.Same(t, list.Get(3), second[0])

	missing := BeforeReturn{Ordinal: 5}.Find("()I", list)
	assert.Empty(t, missing)
}

func TestBeforeInvokeStrict(t *testing.T) {
	tick := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V")
	other := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "render", "()V")
	tick2 := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V")
	list := insnList(tick, other, tick2, bytecode.NewInsn(bytecode.OpReturn))

	p := BeforeInvoke{Selector: refmap.MustSelector("Lgame/World;tick()V"), Ordinal: -1}
	matches := p.Find("()V", list)
	require.Len(t, matches, 2)
	assert.Same(t, tick, matches[0])
	assert.Same(t, tick2, matches[1])
}

func TestBeforeInvokePermissiveGate(t *testing.T) {
	// the call drifted to a different name casing
	call := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "Tick", "()V")
	list := insnList(call, bytecode.NewInsn(bytecode.OpReturn))
	sel := refmap.MustSelector("Lgame/World;tick()V")

	// gate closed: no match
	strict := BeforeInvoke{Selector: sel, Ordinal: -1}
	assert.Empty(t, strict.Find("()V", list))

	// gate open: fuzzy fallback finds it
	permissive := BeforeInvoke{Selector: sel, Ordinal: -1, Permissive: true}
	matches := permissive.Find("()V", list)
	require.Len(t, matches, 1)
	assert.Same(t, call, matches[0])
}

func TestBeforeInvokePermissiveNotUsedWhenStrictMatches(t *testing.T) {
	exact := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V")
	fuzzy := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "Tick", "()V")
	list := insnList(exact, fuzzy, bytecode.NewInsn(bytecode.OpReturn))

	p := BeforeInvoke{Selector: refmap.MustSelector("Lgame/World;tick()V"), Ordinal: -1, Permissive: true}
	matches := p.Find("()V", list)
	require.Len(t, matches, 1)
	assert.Same(t, exact, matches[0])
}

func TestBeforeFieldAccessOpcodes(t *testing.T) {
	get := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "health", "I")
	put := bytecode.FieldInsn(bytecode.OpPutfield, "game/Entity", "health", "I")
	list := insnList(
		bytecode.VarInsn(bytecode.OpAload, 0),
		get,
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.NewInsn(bytecode.OpIconst1),
		put,
		bytecode.NewInsn(bytecode.OpReturn),
	)
	sel := refmap.MustSelector("Lgame/Entity;health:I")

	all := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: -1}.Find("()V", list)
	assert.Len(t, all, 2)

	puts := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: bytecode.OpPutfield}.Find("()V", list)
	require.Len(t, puts, 1)
	assert.Same(t, put, puts[0])
}

func TestArrayFieldFuzz(t *testing.T) {
	sel := refmap.MustSelector("Lgame/Entity;slots:[I")

	t.Run("iaload within fuzz window matches", func(t *testing.T) {
		get := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "slots", "[I")
		list := insnList(
			bytecode.VarInsn(bytecode.OpAload, 0),
			get,
			bytecode.NewInsn(bytecode.OpIconst0),
			bytecode.NewInsn(bytecode.OpIaload),
			bytecode.NewInsn(bytecode.OpReturn),
		)
		matches := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: -1, Array: ArrayGet}.Find("()V", list)
		require.Len(t, matches, 1)
		assert.Same(t, get, matches[0])
	})

	t.Run("repeated field access halts the scan", func(t *testing.T) {
		first := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "slots", "[I")
		second := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "slots", "[I")
		list := insnList(
			bytecode.VarInsn(bytecode.OpAload, 0),
			first,
			bytecode.NewInsn(bytecode.OpPop),
			bytecode.VarInsn(bytecode.OpAload, 0),
			second,
			bytecode.NewInsn(bytecode.OpIconst0),
			bytecode.NewInsn(bytecode.OpIaload),
			bytecode.NewInsn(bytecode.OpReturn),
		)
		matches := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: -1, Array: ArrayGet}.Find("()V", list)
		// only the second access pairs with the IALOAD
		require.Len(t, matches, 1)
		assert.Same(t, second, matches[0])
	})

	t.Run("unrelated arraylength halts the scan", func(t *testing.T) {
		get := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "slots", "[I")
		list := insnList(
			get,
			bytecode.NewInsn(bytecode.OpArraylength),
			bytecode.NewInsn(bytecode.OpPop),
			bytecode.NewInsn(bytecode.OpIconst0),
			bytecode.NewInsn(bytecode.OpIaload),
			bytecode.NewInsn(bytecode.OpReturn),
		)
		matches := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: -1, Array: ArrayGet}.Find("()V", list)
		assert.Empty(t, matches)
	})

	t.Run("match beyond fuzz window is rejected", func(t *testing.T) {
		get := bytecode.FieldInsn(bytecode.OpGetfield, "game/Entity", "slots", "[I")
		insns := []*bytecode.Insn{get}
		for i := 0; i < DefaultFuzz; i++ {
			insns = append(insns, bytecode.NewInsn(bytecode.OpNop))
		}
		insns = append(insns, bytecode.NewInsn(bytecode.OpIaload), bytecode.NewInsn(bytecode.OpReturn))
		matches := BeforeFieldAccess{Selector: sel, Ordinal: -1, Opcode: -1, Array: ArrayGet}.Find("()V", insnList(insns...))
		assert.Empty(t, matches)
	})
}

func TestBeforeNew(t *testing.T) {
	outer := bytecode.TypeInsn(bytecode.OpNew, "game/Vec3")
	inner := bytecode.TypeInsn(bytecode.OpNew, "game/Vec3")
	list := insnList(
		outer,
		bytecode.NewInsn(bytecode.OpDup),
		inner,
		bytecode.NewInsn(bytecode.OpDup),
		bytecode.MethodInsn(bytecode.OpInvokespecial, "game/Vec3", "<init>", "()V"),
		bytecode.MethodInsn(bytecode.OpInvokespecial, "game/Vec3", "<init>", "(Lgame/Vec3;)V"),
		bytecode.NewInsn(bytecode.OpPop),
		bytecode.NewInsn(bytecode.OpReturn),
	)

	all := BeforeNew{TypeName: "game/Vec3", Ordinal: -1}.Find("()V", list)
	assert.Len(t, all, 2)

	// nested pairing: the inner NEW pairs with ()V, the outer with (Lgame/Vec3;)V
	copyCtor := BeforeNew{TypeName: "game/Vec3", CtorDesc: "(Lgame/Vec3;)V", Ordinal: -1}.Find("()V", list)
	require.Len(t, copyCtor, 1)
	assert.Same(t, outer, copyCtor[0])

	noArg := BeforeNew{TypeName: "game/Vec3", CtorDesc: "()V", Ordinal: -1}.Find("()V", list)
	require.Len(t, noArg, 1)
	assert.Same(t, inner, noArg[0])

	wrongDesc := BeforeNew{TypeName: "game/Vec3", CtorDesc: "(I)V", Ordinal: -1}.Find("()V", list)
	assert.Empty(t, wrongDesc)
}

func TestConstantStringScenario(t *testing.T) {
	// LDC "foo", LDC "bar", LDC "foo"
	foo1 := bytecode.LdcInsn(bytecode.StringConst("foo"))
	bar := bytecode.LdcInsn(bytecode.StringConst("bar"))
	foo2 := bytecode.LdcInsn(bytecode.StringConst("foo"))
	list := insnList(foo1, bytecode.NewInsn(bytecode.OpPop), bar,
		bytecode.NewInsn(bytecode.OpPop), foo2, bytecode.NewInsn(bytecode.OpPop),
		bytecode.NewInsn(bytecode.OpReturn))

	foo := "foo"
	all := BeforeConstant{String: &foo, Ordinal: -1}.Find("()V", list)
	require.Len(t, all, 2)
	assert.Same(t, foo1, all[0])
	assert.Same(t, foo2, all[1])

	// ordinal indexes post-filter matches: ordinal=1 is the third LDC
	second := BeforeConstant{String: &foo, Ordinal: 1}.Find("()V", list)
	require.Len(t, second, 1)
	assert.Same(t, foo2, second[0])
}

func TestConstantImmediates(t *testing.T) {
	five := int32(5)
	hundred := int32(100)
	thousand := int32(1000)
	list := insnList(
		bytecode.NewInsn(bytecode.OpIconst5),
		bytecode.IntInsn(bytecode.OpBipush, 100),
		bytecode.IntInsn(bytecode.OpSipush, 1000),
		bytecode.NewInsn(bytecode.OpReturn),
	)

	assert.Len(t, BeforeConstant{Int: &five, Ordinal: -1}.Find("()V", list), 1)
	assert.Len(t, BeforeConstant{Int: &hundred, Ordinal: -1}.Find("()V", list), 1)
	assert.Len(t, BeforeConstant{Int: &thousand, Ordinal: -1}.Find("()V", list), 1)
}

func TestConstantNull(t *testing.T) {
	list := insnList(
		bytecode.NewInsn(bytecode.OpAconstNull),
		bytecode.LdcInsn(bytecode.StringConst("not null")),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	matches := BeforeConstant{Null: true, Ordinal: -1}.Find("()V", list)
	require.Len(t, matches, 1)
	assert.Equal(t, bytecode.OpAconstNull, matches[0].Opcode)
}

func TestConstantZeroConditionExpansion(t *testing.T) {
	zero := int32(0)
	label := bytecode.Label()
	plainBranch := bytecode.JumpInsn(bytecode.OpIflt, label)
	cmpBranch := bytecode.JumpInsn(bytecode.OpIfge, label)
	list := insnList(
		bytecode.VarInsn(bytecode.OpIload, 1),
		plainBranch, // x < 0: an implicit constant-zero comparison
		bytecode.VarInsn(bytecode.OpLload, 2),
		bytecode.NewInsn(bytecode.OpLconst0),
		bytecode.NewInsn(bytecode.OpLcmp),
		cmpBranch, // three-way comparison result test, suppressed
		label,
		bytecode.NewInsn(bytecode.OpReturn),
	)

	expanded := BeforeConstant{Int: &zero, ExpandZeroConditions: true, Ordinal: -1}.Find("()V", list)
	// lconst_0 and the plain branch match; the post-LCMP branch does not
	require.Len(t, expanded, 2)
	assert.Same(t, plainBranch, expanded[0])
	assert.Equal(t, bytecode.OpLconst0, expanded[1].Opcode)

	plain := BeforeConstant{Int: &zero, Ordinal: -1}.Find("()V", list)
	require.Len(t, plain, 1)
	assert.Equal(t, bytecode.OpLconst0, plain[0].Opcode)
}

func TestConstantTypeOnlyDegradation(t *testing.T) {
	// zero discriminators: degrade to type-only matching on the hint
	intType, err := bytecode.ParseType("I")
	require.NoError(t, err)

	list := insnList(
		bytecode.NewInsn(bytecode.OpIconst3),
		bytecode.LdcInsn(bytecode.StringConst("s")),
		bytecode.LdcInsn(bytecode.FloatConst(1.5)),
		bytecode.IntInsn(bytecode.OpBipush, 9),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	matches := BeforeConstant{TypeHint: intType, Ordinal: -1}.Find("()V", list)
	assert.Len(t, matches, 2)
}

func TestConstantZeroMatchesIsNotAnError(t *testing.T) {
	missing := "missing"
	list := insnList(bytecode.NewInsn(bytecode.OpReturn))
	assert.Empty(t, BeforeConstant{String: &missing, Ordinal: -1}.Find("()V", list))
}

func TestOrdinalSemantics(t *testing.T) {
	// ordinal -1 returns the full raw match count; k >= 0 exactly one
	m := testhelpers.BuildMethod(bytecode.AccPublic, "f", "()I",
		bytecode.NewInsn(bytecode.OpIconst0),
		bytecode.NewInsn(bytecode.OpIreturn),
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.NewInsn(bytecode.OpIreturn),
		bytecode.NewInsn(bytecode.OpIconst2),
		bytecode.NewInsn(bytecode.OpIreturn),
	)
	assert.Len(t, BeforeReturn{Ordinal: -1}.Find(m.Desc, m.Insns), 3)
	for k := 0; k < 3; k++ {
		assert.Len(t, BeforeReturn{Ordinal: k}.Find(m.Desc, m.Insns), 1)
	}
	assert.Empty(t, BeforeReturn{Ordinal: 3}.Find(m.Desc, m.Insns))
}
