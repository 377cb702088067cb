package hierarchy

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/classfile"
	"github.com/standardbeagle/jweave/internal/debug"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
)

// ClassSource locates class bytes for models that have not been seen yet.
// Loads are one-shot blocking calls; a failure degrades the model, it is
// never retried.
type ClassSource interface {
	ClassBytes(name string) ([]byte, error)
}

// Cache memoizes one ClassModel per binary class name for the process
// lifetime. The map is append-only; lookups of not-yet-seen classes parse
// bytes from the ClassSource, deduplicated through singleflight so
// concurrent transforms of distinct targets share one load. Model-level lazy
// resolution is not internally locked; the embedding application serializes
// transforms that touch the same classes.
type Cache struct {
	mu     sync.RWMutex
	models map[string]*ClassModel
	source ClassSource
	group  singleflight.Group
}

// NewCache creates a model cache backed by the given source. A nil source is
// valid; unseen classes then degrade to empty models.
func NewCache(source ClassSource) *Cache {
	c := &Cache{
		models: make(map[string]*ClassModel),
		source: source,
	}
	c.install(newObjectModel(c))
	return c
}

func (c *Cache) install(m *ClassModel) *ClassModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.models[m.name]; ok {
		return existing
	}
	c.models[m.name] = m
	return m
}

func (c *Cache) lookup(name string) (*ClassModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// ForName resolves the model for a binary class name, loading and parsing
// bytes on first reference. Load failures log and return a best-effort empty
// model so speculative hierarchy lookups never abort unrelated transforms.
// Returns nil only for the empty name.
func (c *Cache) ForName(name string) *ClassModel {
	if name == "" {
		return nil
	}
	if m, ok := c.lookup(name); ok {
		return m
	}
	v, _, _ := c.group.Do(name, func() (any, error) {
		if m, ok := c.lookup(name); ok {
			return m, nil
		}
		return c.install(c.load(name)), nil
	})
	return v.(*ClassModel)
}

func (c *Cache) load(name string) *ClassModel {
	if c.source != nil {
		data, err := c.source.ClassBytes(name)
		if err == nil {
			node, perr := classfile.Parse(data)
			if perr == nil {
				return newModelFromNode(c, node, false, xxhash.Sum64(data))
			}
			err = perr
		}
		loadErr := jwerrors.NewClassLoadError(name, err)
		debug.LogHierarchy(debug.LevelError, "%v; continuing with empty model", loadErr)
	}
	// Degraded shape: name-only model with an Object superclass so chain
	// walks terminate.
	return &ClassModel{cache: c, name: name, superName: JavaLangObject}
}

// FromClassNode wraps an in-memory class tree as a model, memoizing it under
// the tree's name. If a model for the name already exists it is returned
// unchanged.
func (c *Cache) FromClassNode(node *bytecode.ClassNode, isMixin bool) *ClassModel {
	if m, ok := c.lookup(node.Name); ok {
		return m
	}
	return c.install(newModelFromNode(c, node, isMixin, 0))
}

// AddMixin registers a mixin model against one of its targets, wiring both
// directions of the association.
func (c *Cache) AddMixin(mixin, target *ClassModel) {
	if mixin == nil || target == nil || !mixin.isMixin {
		return
	}
	for _, t := range mixin.targets {
		if t == target {
			return
		}
	}
	mixin.targets = append(mixin.targets, target)
	target.mixins = append(target.mixins, mixin)
}

// newObjectModel synthesizes the root model: java/lang/Object with its fixed
// member set and no superclass.
func newObjectModel(c *Cache) *ClassModel {
	m := &ClassModel{
		cache:  c,
		name:   JavaLangObject,
		access: bytecode.AccPublic,
	}
	m.AddMethod("<init>", "()V", bytecode.AccPublic, false)
	m.AddMethod("getClass", "()Ljava/lang/Class;", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("hashCode", "()I", bytecode.AccPublic, false)
	m.AddMethod("equals", "(Ljava/lang/Object;)Z", bytecode.AccPublic, false)
	m.AddMethod("clone", "()Ljava/lang/Object;", bytecode.AccProtected, false)
	m.AddMethod("toString", "()Ljava/lang/String;", bytecode.AccPublic, false)
	m.AddMethod("notify", "()V", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("notifyAll", "()V", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("wait", "()V", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("wait", "(J)V", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("wait", "(JI)V", bytecode.AccPublic|bytecode.AccFinal, false)
	m.AddMethod("finalize", "()V", bytecode.AccProtected, false)
	return m
}
