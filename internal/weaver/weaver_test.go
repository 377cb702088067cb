package weaver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/jweave/internal/apply"
	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/classfile"
	"github.com/standardbeagle/jweave/internal/config"
	"github.com/standardbeagle/jweave/testhelpers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeClass(t *testing.T, root, sub string, node *bytecode.ClassNode) {
	t.Helper()
	data, err := classfile.Write(node)
	require.NoError(t, err)
	path := filepath.Join(root, sub, filepath.FromSlash(node.Name)+".class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func entityClass() *bytecode.ClassNode {
	return testhelpers.NewClassBuilder("game/Entity").
		Field(bytecode.AccProtected, "health", "I").
		Method(bytecode.AccPublic, "tick", "()V", testhelpers.ReturnVoid()).
		DefaultCtor().
		Build()
}

func speedMixinClass() *bytecode.ClassNode {
	return testhelpers.NewClassBuilder("mixins/EntityMixin").
		Annotate(testhelpers.Annotation(apply.AnnMixin,
			"value", []any{"Lgame/Entity;"},
			"required", bytecode.IntConst(1))).
		Field(bytecode.AccPrivate, "speed", "I").
		Build()
}

func projectDir(t *testing.T) (string, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Project.Root = root
	require.NoError(t, config.NewValidator().ValidateAndSetDefaults(cfg))

	writeClass(t, root, cfg.Paths.Classes, entityClass())
	writeClass(t, root, cfg.Paths.Classes,
		testhelpers.NewClassBuilder("game/World").DefaultCtor().Build())
	writeClass(t, root, cfg.Paths.Mixins, speedMixinClass())
	// companion class without a mixin annotation, must be skipped
	writeClass(t, root, cfg.Paths.Mixins,
		testhelpers.NewClassBuilder("mixins/Helper").DefaultCtor().Build())
	return root, cfg
}

func TestRunWeavesTargetedClasses(t *testing.T) {
	root, cfg := projectDir(t)

	w, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, w.MixinCount())

	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transformed)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 0, stats.Excluded)

	data, err := os.ReadFile(filepath.Join(root, cfg.Paths.Output, "game", "Entity.class"))
	require.NoError(t, err)
	node, err := classfile.Parse(data)
	require.NoError(t, err)
	assert.NotNil(t, node.FindField("speed", "I"))

	// untargeted class copied through byte-identical
	in, err := os.ReadFile(filepath.Join(root, cfg.Paths.Classes, "game", "World.class"))
	require.NoError(t, err)
	out, err := os.ReadFile(filepath.Join(root, cfg.Paths.Output, "game", "World.class"))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRunHonorsExcludePatterns(t *testing.T) {
	root, cfg := projectDir(t)
	cfg.Exclude = []string{"game/World.class"}

	w, err := New(cfg)
	require.NoError(t, err)
	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Excluded)

	_, err = os.Stat(filepath.Join(root, cfg.Paths.Output, "game", "World.class"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunFailsOnRequiredMixinError(t *testing.T) {
	root, cfg := projectDir(t)
	// required mixin shadowing a field the target does not have
	broken := testhelpers.NewClassBuilder("mixins/BrokenMixin").
		Annotate(testhelpers.Annotation(apply.AnnMixin,
			"value", []any{"Lgame/Entity;"},
			"required", bytecode.IntConst(1))).
		AnnotatedField(bytecode.AccPrivate, "mana", "I",
			testhelpers.Annotation(apply.AnnShadow)).
		Build()
	writeClass(t, root, cfg.Paths.Mixins, broken)

	w, err := New(cfg)
	require.NoError(t, err)
	_, err = w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "game/Entity")
}

func TestNewFailsWithoutMixinTree(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Project.Root = root
	require.NoError(t, config.NewValidator().ValidateAndSetDefaults(cfg))
	require.NoError(t, os.MkdirAll(filepath.Join(root, cfg.Paths.Classes), 0o755))

	_, err := New(cfg)
	require.Error(t, err)
}

func TestWatchStopsOnContextCancel(t *testing.T) {
	_, cfg := projectDir(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfg, func(Stats, error) {})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancellation")
	}
}
