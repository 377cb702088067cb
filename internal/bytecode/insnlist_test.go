package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsnListInsertAndRemove(t *testing.T) {
	a := NewInsn(OpNop)
	b := NewInsn(OpReturn)
	l := NewInsnList(a, b)

	mid := NewInsn(OpDup)
	l.InsertBefore(b, mid)
	assert.Equal(t, []*Insn{a, mid, b}, l.All())

	tail := NewInsn(OpPop)
	l.InsertAfter(b, tail)
	assert.Equal(t, 4, l.Len())
	assert.Same(t, tail, l.Last())

	assert.True(t, l.Remove(mid))
	assert.False(t, l.Remove(mid))
	assert.Equal(t, -1, l.IndexOf(mid))
}

func TestInsnListReplaceKeepsPosition(t *testing.T) {
	a := NewInsn(OpNop)
	b := NewInsn(OpNop)
	c := NewInsn(OpReturn)
	l := NewInsnList(a, b, c)

	repl := NewInsn(OpAthrow)
	assert.True(t, l.Replace(b, repl))
	assert.Equal(t, 1, l.IndexOf(repl))
	assert.False(t, l.Contains(b))
	assert.False(t, l.Replace(b, repl))
}

func TestInsnListRealNavigationSkipsPseudo(t *testing.T) {
	first := NewInsn(OpIconst0)
	label := Label()
	line := LineInsn(10)
	last := NewInsn(OpIreturn)
	l := NewInsnList(first, label, line, last)

	assert.Same(t, last, l.NextReal(first))
	assert.Same(t, first, l.PrevReal(last))
	assert.Nil(t, l.NextReal(last))
	assert.Nil(t, l.PrevReal(first))
}

func TestInsnListSlice(t *testing.T) {
	a := NewInsn(OpNop)
	b := NewInsn(OpDup)
	c := NewInsn(OpPop)
	d := NewInsn(OpReturn)
	l := NewInsnList(a, b, c, d)

	assert.Equal(t, []*Insn{b, c}, l.Slice(b, d))
	assert.Equal(t, []*Insn{c, d}, l.Slice(c, nil))
}

func TestCloneListRemapsInternalLabels(t *testing.T) {
	inner := Label()
	outer := Label()
	jmpIn := JumpInsn(OpGoto, inner)
	jmpOut := JumpInsn(OpIfeq, outer)
	run := []*Insn{inner, jmpIn, jmpOut}

	clone := CloneList(run)
	require.Len(t, clone, 3)
	for i := range run {
		assert.NotSame(t, run[i], clone[i])
	}
	// jump into the run follows the cloned label, jump out keeps the original
	assert.Same(t, clone[0], clone[1].Target)
	assert.Same(t, outer, clone[2].Target)
}

func TestCloneListDetachesSwitchTargets(t *testing.T) {
	case0 := Label()
	dflt := Label()
	sw := &Insn{
		Opcode:  OpTableswitch,
		Kind:    KindSwitch,
		Default: dflt,
		Targets: []*Insn{case0},
		Low:     0,
		High:    0,
	}
	run := []*Insn{sw, case0, dflt}

	clone := CloneList(run)
	assert.Same(t, clone[1], clone[0].Targets[0])
	assert.Same(t, clone[2], clone[0].Default)
	// mutating the clone's target table must not touch the original
	clone[0].Targets[0] = nil
	assert.Same(t, case0, sw.Targets[0])
}
