package apply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/jweave/internal/bytecode"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
	"github.com/standardbeagle/jweave/internal/hierarchy"
	"github.com/standardbeagle/jweave/testhelpers"
)

func newEngine() *Applicator {
	return New(hierarchy.NewCache(nil), nil)
}

// gameTarget is a minimal entity class: one field, one behavior method and
// a default constructor that initializes the field.
func gameTarget() *bytecode.ClassNode {
	return testhelpers.NewClassBuilder("game/Entity").
		Field(bytecode.AccProtected, "health", "I").
		Method(bytecode.AccPublic, "tick", "()V",
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/Entity", "update", "()V"),
			bytecode.NewInsn(bytecode.OpReturn)).
		Method(bytecode.AccPublic, "<init>", "()V",
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.NewInsn(bytecode.OpIconst1),
			bytecode.FieldInsn(bytecode.OpPutfield, "game/Entity", "health", "I"),
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
}

func annotated(m *bytecode.MethodNode, anns ...*bytecode.Annotation) *bytecode.MethodNode {
	m.Annotations = anns
	return m
}

func realInsns(m *bytecode.MethodNode) []*bytecode.Insn {
	var out []*bytecode.Insn
	for _, in := range m.Insns.All() {
		if !in.IsPseudo() {
			out = append(out, in)
		}
	}
	return out
}

func countOps(m *bytecode.MethodNode, opcode int) int {
	n := 0
	for _, in := range realInsns(m) {
		if in.Opcode == opcode {
			n++
		}
	}
	return n
}

// indexOfPutfield returns the position of the PUTFIELD on the named field
// among the method's real instructions, -1 if absent.
func indexOfPutfield(m *bytecode.MethodNode, field string) int {
	for i, in := range realInsns(m) {
		if in.Opcode == bytecode.OpPutfield && in.Name == field {
			return i
		}
	}
	return -1
}

func hasStringLdc(m *bytecode.MethodNode, s string) bool {
	for _, in := range realInsns(m) {
		if in.Kind == bytecode.KindLdc && in.Const.Kind == bytecode.ConstString && in.Const.Str == s {
			return true
		}
	}
	return false
}

// taggedOverride builds a mixin class whose tick()V body carries a
// distinctive string constant, for tracing which body won a merge.
func taggedOverride(name, tag string) *bytecode.ClassNode {
	return testhelpers.NewClassBuilder(name).
		Method(bytecode.AccPublic, "tick", "()V",
			bytecode.LdcInsn(bytecode.StringConst(tag)),
			bytecode.NewInsn(bytecode.OpPop),
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
}

func TestMergeAddsFieldAndInterface(t *testing.T) {
	target := gameTarget()
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		Interface("game/Tickable").
		Field(bytecode.AccPrivate, "speed", "I").
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.NotNil(t, target.FindField("speed", "I"))
	assert.True(t, target.HasInterface("game/Tickable"))
}

func TestMergeInterfaceIsIdempotent(t *testing.T) {
	target := gameTarget()
	target.Interfaces = append(target.Interfaces, "game/Tickable")
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		Interface("game/Tickable").
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.Equal(t, []string{"game/Tickable"}, target.Interfaces)
}

func TestShadowFieldMustExistInTarget(t *testing.T) {
	target := gameTarget()
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		AnnotatedField(bytecode.AccPrivate, "mana", "I", testhelpers.Annotation(AnnShadow)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	err := newEngine().Transform(target, []*Mixin{mx})
	require.Error(t, err)
	var merr *jwerrors.MixinError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, err.Error(), "shadow field not found")
	assert.True(t, merr.Required)
}

func TestMutableShadowStripsFinal(t *testing.T) {
	target := gameTarget()
	target.Fields[0].Access = bytecode.AccProtected | bytecode.AccFinal
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		AnnotatedField(bytecode.AccProtected, "health", "I",
			testhelpers.Annotation(AnnShadow), testhelpers.Annotation(AnnMutable)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.False(t, bytecode.IsFinal(target.FindField("health", "I").Access))
}

func TestMutableShadowKeepsFinalOnPrivateField(t *testing.T) {
	target := gameTarget()
	target.Fields[0].Access = bytecode.AccPrivate | bytecode.AccFinal
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		AnnotatedField(bytecode.AccPrivate, "health", "I",
			testhelpers.Annotation(AnnShadow), testhelpers.Annotation(AnnMutable)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.True(t, bytecode.IsFinal(target.FindField("health", "I").Access))
}

func TestMethodMergeReplacesTargetBody(t *testing.T) {
	target := gameTarget()
	mx := NewMixin(taggedOverride("mixins/EntityMixin", "mixed"), []string{"game/Entity"},
		DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	tick := target.FindMethod("tick", "()V")
	require.NotNil(t, tick)
	assert.True(t, hasStringLdc(tick, "mixed"))
	require.NotNil(t, markerFor(tick))
	assert.Equal(t, "mixins/EntityMixin", markerFor(tick).GetString("mixin", ""))
}

func TestFinalTargetMethodIsNeverOverwritten(t *testing.T) {
	target := gameTarget()
	tick := target.FindMethod("tick", "()V")
	tick.Annotations = []*bytecode.Annotation{testhelpers.Annotation(AnnFinal)}
	mx := NewMixin(taggedOverride("mixins/EntityMixin", "mixed"), []string{"game/Entity"},
		DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	got := target.FindMethod("tick", "()V")
	assert.Same(t, tick, got)
	assert.False(t, hasStringLdc(got, "mixed"))
}

func TestMergedFinalMethodIsNeverOverwritten(t *testing.T) {
	target := gameTarget()
	sealed := testhelpers.NewClassBuilder("mixins/FinalMixin").
		MethodNode(annotated(
			testhelpers.BuildMethod(bytecode.AccPublic, "tick", "()V",
				bytecode.LdcInsn(bytecode.StringConst("sealed")),
				bytecode.NewInsn(bytecode.OpPop),
				bytecode.NewInsn(bytecode.OpReturn)),
			testhelpers.Annotation(AnnFinal))).
		Build()
	low := NewMixin(sealed, []string{"game/Entity"}, 500, true)
	high := NewMixin(taggedOverride("mixins/HighMixin", "high"), []string{"game/Entity"}, 2000, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{high, low}))
	tick := target.FindMethod("tick", "()V")
	assert.True(t, hasStringLdc(tick, "sealed"))
	assert.False(t, hasStringLdc(tick, "high"))
	marker := markerFor(tick)
	require.NotNil(t, marker)
	assert.Equal(t, "mixins/FinalMixin", marker.GetString("mixin", ""))
	assert.True(t, marker.GetBool("final", false))
}

func TestHigherPriorityMixinWinsMethodMerge(t *testing.T) {
	target := gameTarget()
	low := NewMixin(taggedOverride("mixins/LowMixin", "low"), []string{"game/Entity"}, 500, true)
	high := NewMixin(taggedOverride("mixins/HighMixin", "high"), []string{"game/Entity"}, 2000, true)

	// order of the input slice must not matter
	require.NoError(t, newEngine().Transform(target, []*Mixin{high, low}))
	tick := target.FindMethod("tick", "()V")
	assert.True(t, hasStringLdc(tick, "high"))
	assert.False(t, hasStringLdc(tick, "low"))
	assert.Equal(t, 2000, markerFor(tick).GetInt("priority", 0))
}

func TestEqualPriorityKeepsFirstMerge(t *testing.T) {
	target := gameTarget()
	first := NewMixin(taggedOverride("mixins/FirstMixin", "first"), []string{"game/Entity"}, 1000, true)
	second := NewMixin(taggedOverride("mixins/SecondMixin", "second"), []string{"game/Entity"}, 1000, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{first, second}))
	tick := target.FindMethod("tick", "()V")
	assert.True(t, hasStringLdc(tick, "first"))
	assert.False(t, hasStringLdc(tick, "second"))
}

func TestStaleSessionMarkerIsReplaced(t *testing.T) {
	target := gameTarget()
	tick := target.FindMethod("tick", "()V")
	tick.Annotations = []*bytecode.Annotation{mergedMarker("mixins/OldMixin", "dead-session", 9999, false)}
	mx := NewMixin(taggedOverride("mixins/EntityMixin", "fresh"), []string{"game/Entity"}, 500, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.True(t, hasStringLdc(target.FindMethod("tick", "()V"), "fresh"))
}

func TestIntrinsicDisplacesExistingMethod(t *testing.T) {
	target := gameTarget()
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		MethodNode(annotated(
			testhelpers.BuildMethod(bytecode.AccPublic, "tick", "()V",
				bytecode.LdcInsn(bytecode.StringConst("intrinsic")),
				bytecode.NewInsn(bytecode.OpPop),
				bytecode.NewInsn(bytecode.OpReturn)),
			testhelpers.Annotation(AnnIntrinsic, "displace", bytecode.IntConst(1)))).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.True(t, hasStringLdc(target.FindMethod("tick", "()V"), "intrinsic"))
	displaced := target.FindMethod("jweave$EntityMixin$tick", "()V")
	require.NotNil(t, displaced)
	assert.False(t, hasStringLdc(displaced, "intrinsic"))
}

func TestIntrinsicWithoutDisplaceSkips(t *testing.T) {
	target := gameTarget()
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		MethodNode(annotated(
			testhelpers.BuildMethod(bytecode.AccPublic, "tick", "()V",
				bytecode.LdcInsn(bytecode.StringConst("intrinsic")),
				bytecode.NewInsn(bytecode.OpPop),
				bytecode.NewInsn(bytecode.OpReturn)),
			testhelpers.Annotation(AnnIntrinsic))).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.False(t, hasStringLdc(target.FindMethod("tick", "()V"), "intrinsic"))
}

func TestStaticInitializersAccumulate(t *testing.T) {
	target := gameTarget()
	target.Methods = append(target.Methods, testhelpers.BuildMethod(
		bytecode.AccStatic, "<clinit>", "()V",
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.FieldInsn(bytecode.OpPutstatic, "game/Entity", "ready", "I"),
		bytecode.NewInsn(bytecode.OpReturn)))
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		Method(bytecode.AccStatic, "<clinit>", "()V",
			bytecode.NewInsn(bytecode.OpIconst2),
			bytecode.FieldInsn(bytecode.OpPutstatic, "mixins/EntityMixin", "seen", "I"),
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))

	var clinits []*bytecode.MethodNode
	for _, m := range target.Methods {
		if m.Name == "<clinit>" {
			clinits = append(clinits, m)
		}
	}
	require.Len(t, clinits, 1)
	clinit := clinits[0]
	assert.Equal(t, 1, countOps(clinit, bytecode.OpReturn))

	// target's own store runs first, then the appended mixin store,
	// reparented onto the target
	var stores []*bytecode.Insn
	for _, in := range realInsns(clinit) {
		if in.Opcode == bytecode.OpPutstatic {
			stores = append(stores, in)
		}
	}
	require.Len(t, stores, 2)
	assert.Equal(t, "ready", stores[0].Name)
	assert.Equal(t, "seen", stores[1].Name)
	assert.Equal(t, "game/Entity", stores[1].Owner)
}

// speedMixin declares one added field with a constructor initializer.
func speedMixin() *bytecode.ClassNode {
	return testhelpers.NewClassBuilder("mixins/EntityMixin").
		Field(bytecode.AccPrivate, "speed", "I").
		Method(bytecode.AccPublic, "<init>", "()V",
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.NewInsn(bytecode.OpIconst5),
			bytecode.FieldInsn(bytecode.OpPutfield, "mixins/EntityMixin", "speed", "I"),
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
}

func TestFieldInitializerSplicesAfterTargetInitializers(t *testing.T) {
	target := gameTarget()
	mx := NewMixin(speedMixin(), []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	ctor := target.FindMethod("<init>", "()V")
	healthAt := indexOfPutfield(ctor, "health")
	speedAt := indexOfPutfield(ctor, "speed")
	require.GreaterOrEqual(t, healthAt, 0)
	require.GreaterOrEqual(t, speedAt, 0)
	assert.Greater(t, speedAt, healthAt)

	// the spliced store targets the real class now
	assert.Equal(t, "game/Entity", realInsns(ctor)[speedAt].Owner)
}

func TestSafeInitModeSplicesBeforeTargetInitializers(t *testing.T) {
	target := gameTarget()
	ap := newEngine()
	ap.InitMode = InitModeSafe
	mx := NewMixin(speedMixin(), []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, ap.Transform(target, []*Mixin{mx}))
	ctor := target.FindMethod("<init>", "()V")
	assert.Less(t, indexOfPutfield(ctor, "speed"), indexOfPutfield(ctor, "health"))
}

func TestConstructorLogicBeyondInitializersRejected(t *testing.T) {
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		Field(bytecode.AccPrivate, "speed", "I").
		Method(bytecode.AccPublic, "<init>", "()V",
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokevirtual, "mixins/EntityMixin", "setup", "()V"),
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	err := newEngine().Transform(gameTarget(), []*Mixin{mx})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beyond field initializers")
}

func TestConstructorControlFlowRejected(t *testing.T) {
	end := bytecode.Label()
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").
		Field(bytecode.AccPrivate, "speed", "I").
		Method(bytecode.AccPublic, "<init>", "()V",
			bytecode.VarInsn(bytecode.OpAload, 0),
			bytecode.MethodInsn(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V"),
			bytecode.JumpInsn(bytecode.OpGoto, end),
			end,
			bytecode.NewInsn(bytecode.OpReturn)).
		Build()
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	err := newEngine().Transform(gameTarget(), []*Mixin{mx})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field initializer")
}

func TestDelegatingConstructorIsNotSpliced(t *testing.T) {
	target := gameTarget()
	target.Methods = append(target.Methods, testhelpers.BuildMethod(
		bytecode.AccPublic, "<init>", "(I)V",
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokespecial, "game/Entity", "<init>", "()V"),
		bytecode.NewInsn(bytecode.OpReturn)))
	mx := NewMixin(speedMixin(), []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.GreaterOrEqual(t, indexOfPutfield(target.FindMethod("<init>", "()V"), "speed"), 0)
	assert.Equal(t, -1, indexOfPutfield(target.FindMethod("<init>", "(I)V"), "speed"))
}

func TestClassVersionTakesMaximum(t *testing.T) {
	target := gameTarget()
	target.MajorVersion = 52
	node := testhelpers.NewClassBuilder("mixins/EntityMixin").Build()
	node.MajorVersion = 61
	mx := NewMixin(node, []string{"game/Entity"}, DefaultPriority, true)

	require.NoError(t, newEngine().Transform(target, []*Mixin{mx}))
	assert.Equal(t, 61, target.MajorVersion)
}
