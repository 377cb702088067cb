package hierarchy

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/testhelpers"
)

func gameSource() *testhelpers.MapSource {
	return testhelpers.NewMapSource().
		Add(testhelpers.NewClassBuilder("game/Entity").
			Field(bytecode.AccProtected, "health", "I").
			Method(bytecode.AccPublic, "tick", "()V", testhelpers.ReturnVoid()).
			Method(bytecode.AccPrivate, "heal", "(I)V", testhelpers.ReturnVoid()).
			DefaultCtor().
			Build()).
		Add(testhelpers.NewClassBuilder("game/Player").
			Super("game/Entity").
			Method(bytecode.AccPublic, "jump", "()V", testhelpers.ReturnVoid()).
			DefaultCtor().
			Build())
}

func TestCacheLoadsAndMemoizes(t *testing.T) {
	cache := NewCache(gameSource())

	player := cache.ForName("game/Player")
	require.NotNil(t, player)
	assert.Equal(t, "game/Entity", player.SuperName())
	assert.False(t, player.IsEmpty())
	assert.NotZero(t, player.Fingerprint())

	assert.Same(t, player, cache.ForName("game/Player"))
	assert.Same(t, player.Super(), cache.ForName("game/Entity"))
}

func TestCacheDegradesOnLoadFailure(t *testing.T) {
	cache := NewCache(testhelpers.NewMapSource())

	ghost := cache.ForName("game/Ghost")
	require.NotNil(t, ghost)
	assert.True(t, ghost.IsEmpty())
	assert.Equal(t, JavaLangObject, ghost.SuperName())
	assert.Zero(t, ghost.Fingerprint())

	// degraded models are memoized too, never retried
	assert.Same(t, ghost, cache.ForName("game/Ghost"))
}

func TestCacheDegradesOnParseFailure(t *testing.T) {
	src := testhelpers.NewMapSource().AddBytes("game/Broken", []byte{0xDE, 0xAD})
	cache := NewCache(src)
	assert.True(t, cache.ForName("game/Broken").IsEmpty())
}

func TestCacheRootModel(t *testing.T) {
	cache := NewCache(nil)
	obj := cache.ForName(JavaLangObject)
	require.NotNil(t, obj)
	assert.Nil(t, obj.Super())
	assert.False(t, obj.IsEmpty())
	require.NotNil(t, obj.FindMethod("hashCode", "()I"))
	require.NotNil(t, obj.FindMethod("wait", "(J)V"))
}

func TestConcurrentForNameSharesOneModel(t *testing.T) {
	cache := NewCache(gameSource())

	const n = 16
	models := make([]*ClassModel, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i] = cache.ForName("game/Player")
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, models[0], models[i])
	}
}

type failingSource struct{}

func (failingSource) ClassBytes(name string) ([]byte, error) {
	return nil, errors.New("no class path entry")
}

func TestCacheLogsLoadErrorAndContinues(t *testing.T) {
	cache := NewCache(failingSource{})
	m := cache.ForName("game/Missing")
	require.NotNil(t, m)
	assert.True(t, m.IsEmpty())
}

func TestSuperChainLookupExcludesPrivate(t *testing.T) {
	cache := NewCache(gameSource())
	player := cache.ForName("game/Player")

	// inherited public method resolves
	tick := player.FindMethodInHierarchy("tick", "()V", true, TraversalNone)
	require.NotNil(t, tick)
	assert.Equal(t, "game/Entity", tick.Owner().Name())

	// private member on the superclass never resolves through inheritance
	assert.Nil(t, player.FindMethodInHierarchy("heal", "(I)V", true, TraversalNone))

	// but resolves at its exact declaring class
	entity := cache.ForName("game/Entity")
	require.NotNil(t, entity.FindMethodInHierarchy("heal", "(I)V", true, TraversalNone))
}

func TestFieldLookupThroughHierarchy(t *testing.T) {
	cache := NewCache(gameSource())
	player := cache.ForName("game/Player")

	health := player.FindFieldInHierarchy("health", "I", true, TraversalNone)
	require.NotNil(t, health)
	assert.Equal(t, "game/Entity", health.Owner().Name())
}

func mixinModel(cache *Cache, name string, target *ClassModel) *ClassModel {
	node := testhelpers.NewClassBuilder(name).
		Method(bytecode.AccPublic, "render", "()V", testhelpers.ReturnVoid()).
		Field(bytecode.AccPrivate, "frames", "I").
		Build()
	m := cache.FromClassNode(node, true)
	cache.AddMixin(m, target)
	return m
}

func TestMixinTraversalPolicies(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	player := cache.ForName("game/Player")
	mixinModel(cache, "mixins/EntityMixin", entity)

	tests := []struct {
		name      string
		start     *ClassModel
		traversal Traversal
		found     bool
	}{
		{"none never crosses", player, TraversalNone, false},
		{"all crosses at ancestors", player, TraversalAll, true},
		{"immediate only at start", player, TraversalImmediate, false},
		{"immediate at the target itself", entity, TraversalImmediate, true},
		{"super skips start then crosses", player, TraversalSuper, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.start.FindMethodInHierarchy("render", "()V", true, tc.traversal)
			if tc.found {
				require.NotNil(t, m)
			} else {
				assert.Nil(t, m)
			}
		})
	}
}

func TestMixinHitIsReparented(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	mixin := mixinModel(cache, "mixins/EntityMixin", entity)

	m := entity.FindMethodInHierarchy("render", "()V", true, TraversalAll)
	require.NotNil(t, m)
	// the hit surfaces as declared on the real class, not the mixin
	assert.Same(t, entity, m.Owner())
	require.NotNil(t, mixin.FindMethod("render", "()V"))
	assert.Same(t, mixin, mixin.FindMethod("render", "()V").Owner())
}

func TestTraversalSuperSkipsMixinsAtStart(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	mixinModel(cache, "mixins/EntityMixin", entity)

	// TraversalSuper at the subject class must not see the mixin's members
	assert.Nil(t, entity.FindMethodInHierarchy("render", "()V", true, TraversalSuper))
}

func TestFindSuperClassThroughMixins(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	player := cache.ForName("game/Player")
	mixin := mixinModel(cache, "mixins/EntityMixin", entity)

	assert.True(t, player.HasSuperClass("game/Entity", TraversalNone))
	assert.True(t, player.HasSuperClass(JavaLangObject, TraversalNone))
	assert.False(t, player.HasSuperClass("mixins/EntityMixin", TraversalNone))
	assert.True(t, player.HasSuperClass("mixins/EntityMixin", TraversalAll))
	assert.Same(t, mixin, player.FindSuperClass("mixins/EntityMixin", TraversalAll))
}

func TestFindCorrespondingType(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	player := cache.ForName("game/Player")
	mixin := mixinModel(cache, "mixins/EntityMixin", entity)

	// a mixin reference inside Player's context resolves to the targeted ancestor
	assert.Same(t, entity, player.FindCorrespondingType(mixin))
	assert.Same(t, entity, entity.FindCorrespondingType(mixin))

	// non-mixin argument yields nothing
	assert.Nil(t, player.FindCorrespondingType(entity))

	// cached result is stable
	assert.Same(t, entity, player.FindCorrespondingType(mixin))
}

func TestMergedMembersAndInterfaces(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")

	added := entity.AddMethod("render", "()V", bytecode.AccPublic, true)
	assert.True(t, added.Injected)
	require.NotNil(t, entity.FindMethod("render", "()V"))

	entity.AddInterface("game/Renderable")
	entity.AddInterface("game/Renderable")
	assert.Equal(t, []string{"game/Renderable"}, entity.Interfaces())
}

func TestMemberRenameKeepsOriginal(t *testing.T) {
	cache := NewCache(gameSource())
	entity := cache.ForName("game/Entity")
	m := entity.FindMethod("tick", "()V")
	require.NotNil(t, m)

	m.Rename("tick$original")
	assert.True(t, m.Renamed())

	// both names keep resolving
	require.NotNil(t, entity.FindMethod("tick", "()V"))
	require.NotNil(t, entity.FindMethod("tick$original", "()V"))
}

func TestStaticInnerDetection(t *testing.T) {
	inner := testhelpers.NewClassBuilder("game/Entity$Pos").Build()
	inner.InnerClasses = []bytecode.InnerClass{
		{Name: "game/Entity$Pos", Outer: "game/Entity", InnerName: "Pos", Access: bytecode.AccStatic},
	}
	src := testhelpers.NewMapSource().Add(inner)

	withOuter := testhelpers.NewClassBuilder("game/Entity$View").
		Field(0, "this$0", "Lgame/Entity;").
		Build()
	withOuter.InnerClasses = []bytecode.InnerClass{
		{Name: "game/Entity$View", Outer: "game/Entity", InnerName: "View"},
	}
	src.Add(withOuter)

	cache := NewCache(src)
	assert.True(t, cache.ForName("game/Entity$Pos").IsStaticInner())
	assert.False(t, cache.ForName("game/Entity$View").IsStaticInner())
	assert.True(t, cache.ForName("game/Entity$Pos").IsInner())
}
