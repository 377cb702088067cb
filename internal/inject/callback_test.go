package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/injection"
	"github.com/standardbeagle/jweave/internal/point"
	"github.com/standardbeagle/jweave/internal/refmap"
	"github.com/standardbeagle/jweave/testhelpers"
)

func TestCallbackAtHead(t *testing.T) {
	tgt := newTarget(t, 0, "tick", "()V", testhelpers.ReturnVoid())
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";)V"),
		&Callback{}, point.MethodHead{})

	run(t, info, tgt)
	assert.Equal(t, 1, info.Applied())

	// NEW, DUP, LDC id, ICONST_0, <init>, ASTORE, ALOAD, handler, then body
	assert.Equal(t, []int{
		bytecode.OpNew, bytecode.OpDup, bytecode.OpLdc, bytecode.OpIconst0,
		bytecode.OpInvokespecial, bytecode.OpAstore, bytecode.OpAload,
		bytecode.OpInvokestatic, bytecode.OpReturn,
	}, realOps(tgt))

	ctor := tgt.Insns().Get(0)
	assert.Equal(t, CallbackInfoClass, ctor.TypeName)
	assert.Equal(t, "tick", tgt.Insns().Get(2).Const.Str)

	call := findMethodInsn(tgt, "onTick")
	require.NotNil(t, call)
	assert.Equal(t, bytecode.OpInvokestatic, call.Opcode)
	assert.Equal(t, "game/Entity", call.Owner)
}

func TestCallbackCapturesTargetArguments(t *testing.T) {
	tgt := newTarget(t, 0, "damage", "(JLgame/Source;)Z",
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.NewInsn(bytecode.OpIreturn),
	)
	handler := staticHandler("onDamage", "(JLgame/Source;L"+CallbackInfoReturnableClass+";)V")
	info := newInfo(handler, &Callback{}, point.MethodHead{})

	run(t, info, tgt)

	// receiver occupies slot 0, the long occupies 1-2, the reference slot 3
	var loads []*bytecode.Insn
	for _, in := range tgt.Insns().All() {
		if in.Opcode == bytecode.OpLload || (in.Opcode == bytecode.OpAload && in.Operand == 3) {
			loads = append(loads, in)
		}
	}
	require.Len(t, loads, 2)
	assert.Equal(t, bytecode.OpLload, loads[0].Opcode)
	assert.Equal(t, 1, loads[0].Operand)
	assert.Equal(t, 3, loads[1].Operand)
}

func TestCancellableCallbackRoundTrip(t *testing.T) {
	tgt := newTarget(t, 0, "level", "()I",
		bytecode.NewInsn(bytecode.OpIconst5),
		bytecode.NewInsn(bytecode.OpIreturn),
	)
	info := newInfo(staticHandler("onLevel", "(L"+CallbackInfoReturnableClass+";)V"),
		&Callback{Cancellable: true}, point.MethodHead{})

	run(t, info, tgt)

	// cancellable flag is pushed as true
	assert.Equal(t, bytecode.OpIconst1, tgt.Insns().Get(3).Opcode)

	// cancellation path: isCancelled, IFEQ resume, getReturnValue, unbox, IRETURN
	cancelled := findMethodInsn(tgt, "isCancelled")
	require.NotNil(t, cancelled)
	assert.Equal(t, CallbackInfoReturnableClass, cancelled.Owner)

	ret := findMethodInsn(tgt, "getReturnValue")
	require.NotNil(t, ret)

	cast := tgt.Insns().Next(ret)
	require.NotNil(t, cast)
	assert.Equal(t, bytecode.OpCheckcast, cast.Opcode)
	assert.Equal(t, "java/lang/Integer", cast.TypeName)

	unbox := tgt.Insns().Next(cast)
	assert.Equal(t, "intValue", unbox.Name)
	assert.Equal(t, bytecode.OpIreturn, tgt.Insns().Next(unbox).Opcode)

	// both the early return and the original return survive
	assert.Equal(t, 2, countOpcode(tgt, bytecode.OpIreturn))
}

func TestVoidCancellableEmitsPlainReturn(t *testing.T) {
	tgt := newTarget(t, 0, "tick", "()V", testhelpers.ReturnVoid())
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";)V"),
		&Callback{Cancellable: true}, point.MethodHead{})

	run(t, info, tgt)
	assert.Equal(t, 2, countOpcode(tgt, bytecode.OpReturn))
	assert.Nil(t, findMethodInsn(tgt, "getReturnValue"))
}

func TestCallbackInfoReusedAcrossAdjacentSites(t *testing.T) {
	sel := refmap.MustSelector("Lgame/World;tick()V")
	tgt := newTarget(t, 0, "update", "()V",
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V"),
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V"),
		testhelpers.ReturnVoid(),
	)
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";)V"),
		&Callback{ID: "worldTick"}, point.BeforeInvoke{Selector: sel, Ordinal: -1})

	run(t, info, tgt)
	assert.Equal(t, 2, info.Applied())

	// one construction, two handler calls reading the same local
	assert.Equal(t, 1, countOpcode(tgt, bytecode.OpNew))
	calls := 0
	for _, in := range tgt.Insns().All() {
		if in.Kind == bytecode.KindMethod && in.Name == "onTick" {
			calls++
		}
	}
	assert.Equal(t, 2, calls)
}

func TestCancellableCallbackNeverReused(t *testing.T) {
	sel := refmap.MustSelector("Lgame/World;tick()V")
	tgt := newTarget(t, 0, "update", "()V",
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V"),
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V"),
		testhelpers.ReturnVoid(),
	)
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";)V"),
		&Callback{ID: "worldTick", Cancellable: true}, point.BeforeInvoke{Selector: sel, Ordinal: -1})

	run(t, info, tgt)
	assert.Equal(t, 2, countOpcode(tgt, bytecode.OpNew))
}

func TestInstanceHandlerLoadsReceiver(t *testing.T) {
	tgt := newTarget(t, 0, "tick", "()V", testhelpers.ReturnVoid())
	info := newInfo(instanceHandler("onTick", "(L"+CallbackInfoClass+";)V"),
		&Callback{}, point.MethodHead{})

	run(t, info, tgt)
	call := findMethodInsn(tgt, "onTick")
	require.NotNil(t, call)
	assert.Equal(t, bytecode.OpInvokespecial, call.Opcode)

	// ALOAD 0 directly before the callback-info load
	prev := tgt.Insns().Prev(tgt.Insns().Prev(call))
	assert.Equal(t, bytecode.OpAload, prev.Opcode)
	assert.Equal(t, 0, prev.Operand)
}

func TestCallbackRejectsNonVoidHandler(t *testing.T) {
	tgt := newTarget(t, 0, "tick", "()V", testhelpers.ReturnVoid())
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";)I"),
		&Callback{}, point.MethodHead{})

	require.NoError(t, info.Discover(tgt))
	err := info.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must return void")
}

func TestCallbackRejectsShapeMismatch(t *testing.T) {
	tgt := newTarget(t, 0, "damage", "(I)V", testhelpers.ReturnVoid())
	info := newInfo(staticHandler("onDamage", "(FL"+CallbackInfoClass+";)V"),
		&Callback{}, point.MethodHead{})

	require.NoError(t, info.Discover(tgt))
	err := info.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches neither")
}

func localCaptureTarget(t *testing.T, withTable bool) *injection.Target {
	start := bytecode.Label()
	end := bytecode.Label()
	site := bytecode.MethodInsn(bytecode.OpInvokevirtual, "game/World", "tick", "()V")
	m := testhelpers.BuildMethod(0, "update", "()V",
		bytecode.NewInsn(bytecode.OpIconst5),
		bytecode.VarInsn(bytecode.OpIstore, 1),
		start,
		bytecode.VarInsn(bytecode.OpAload, 0),
		site,
		end,
		testhelpers.ReturnVoid(),
	)
	if withTable {
		m.LocalVars = []*bytecode.LocalVar{
			{Name: "count", Desc: "I", Start: start, End: end, Index: 1},
		}
	}
	tgt, err := injection.NewTarget("game/Entity", m)
	require.NoError(t, err)
	return tgt
}

func TestLocalCaptureFromVariableTable(t *testing.T) {
	tgt := localCaptureTarget(t, true)
	sel := refmap.MustSelector("Lgame/World;tick()V")
	info := newInfo(staticHandler("onTick", "(L"+CallbackInfoClass+";I)V"),
		&Callback{}, point.BeforeInvoke{Selector: sel, Ordinal: -1})

	run(t, info, tgt)
	assert.Equal(t, 1, info.Applied())

	call := findMethodInsn(tgt, "onTick")
	require.NotNil(t, call)
	load := tgt.Insns().Prev(call)
	assert.Equal(t, bytecode.OpIload, load.Opcode)
	assert.Equal(t, 1, load.Operand)
}

func TestLocalCaptureFailurePolicies(t *testing.T) {
	sel := refmap.MustSelector("Lgame/World;tick()V")
	handlerDesc := "(L" + CallbackInfoClass + ";I)V"

	t.Run("hard failure raises", func(t *testing.T) {
		tgt := localCaptureTarget(t, false)
		info := newInfo(staticHandler("onTick", handlerDesc),
			&Callback{Capture: CaptureFailHard}, point.BeforeInvoke{Selector: sel, Ordinal: -1})
		require.NoError(t, info.Discover(tgt))
		err := info.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot capture locals")
	})

	t.Run("soft failure skips", func(t *testing.T) {
		tgt := localCaptureTarget(t, false)
		info := newInfo(staticHandler("onTick", handlerDesc),
			&Callback{Capture: CaptureFailSoft}, point.BeforeInvoke{Selector: sel, Ordinal: -1})
		run(t, info, tgt)
		assert.Zero(t, info.Applied())
		assert.Nil(t, findMethodInsn(tgt, "onTick"))
	})

	t.Run("stub policy injects a throwing stub", func(t *testing.T) {
		tgt := localCaptureTarget(t, false)
		handler := staticHandler("onTick", handlerDesc)
		info := newInfo(handler, &Callback{Capture: CaptureFailStub},
			point.BeforeInvoke{Selector: sel, Ordinal: -1})
		run(t, info, tgt)
		assert.Equal(t, 1, info.Applied())

		// handler body became a throw
		assert.Equal(t, bytecode.OpAthrow, handler.Insns.Last().Opcode)
		stub := handler.Insns.First()
		assert.Equal(t, "java/lang/UnsupportedOperationException", stub.TypeName)

		// call site passes a default value for the uncapturable local
		call := findMethodInsn(tgt, "onTick")
		require.NotNil(t, call)
		assert.Equal(t, bytecode.OpIconst0, tgt.Insns().Prev(call).Opcode)
	})
}
