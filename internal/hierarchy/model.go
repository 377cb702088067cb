package hierarchy

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
)

// JavaLangObject is the universal base class.
const JavaLangObject = "java/lang/Object"

// ClassModel is the cached structural shape of one class: names, members and
// mixin associations. Exactly one model exists per binary name, memoized in
// the owning Cache for the process lifetime. Models are read-mostly; the
// applicator mutates them only to record interfaces and members added by a
// merge.
type ClassModel struct {
	cache *Cache

	name        string
	superName   string
	outerName   string
	// outerStatic is true when this is an inner class with no enclosing
	// instance (no this$0 field).
	outerStatic bool
	access      int
	isMixin     bool
	isInterface bool
	interfaces  []string
	methods     []*Member
	fields      []*Member

	// fingerprint of the class bytes this model was built from; zero for
	// synthesized or in-memory models.
	fingerprint uint64

	// mixins targeting this class (only when this model is not a mixin).
	mixins []*ClassModel
	// targets of this mixin (only when this model is a mixin).
	targets []*ClassModel

	// lazily resolved references
	superResolved bool
	super         *ClassModel
	outerResolved bool
	outer         *ClassModel

	corresponding map[*ClassModel]*ClassModel
}

// Name returns the internal binary name.
func (c *ClassModel) Name() string { return c.name }

// SuperName returns the internal name of the superclass, "" for the root.
func (c *ClassModel) SuperName() string { return c.superName }

// Access returns the class access flags.
func (c *ClassModel) Access() int { return c.access }

// IsMixin reports whether this model describes a mixin class.
func (c *ClassModel) IsMixin() bool { return c.isMixin }

// IsInterface reports whether the class is an interface.
func (c *ClassModel) IsInterface() bool { return c.isInterface }

// Interfaces returns the declared (plus merged) interface names.
func (c *ClassModel) Interfaces() []string { return c.interfaces }

// Fingerprint returns the xxhash of the class bytes this model was parsed
// from, or zero for synthesized/in-memory models.
func (c *ClassModel) Fingerprint() uint64 { return c.fingerprint }

// IsInner reports whether the class declares an outer class.
func (c *ClassModel) IsInner() bool { return c.outerName != "" }

// IsStaticInner reports whether the class is an inner class without an
// enclosing instance.
func (c *ClassModel) IsStaticInner() bool { return c.outerStatic }

// Mixins returns the mixins registered against this class.
func (c *ClassModel) Mixins() []*ClassModel { return c.mixins }

// Targets returns the target models of this mixin.
func (c *ClassModel) Targets() []*ClassModel { return c.targets }

// IsEmpty reports whether the model carries no members, the degraded shape
// produced when class bytes could not be loaded.
func (c *ClassModel) IsEmpty() bool {
	return len(c.methods) == 0 && len(c.fields) == 0 && c.name != JavaLangObject
}

// Super resolves and caches the superclass model. Returns nil for the root
// model and for models whose superclass cannot be resolved; callers must
// treat nil as "hierarchy broken" when real ancestry is required.
func (c *ClassModel) Super() *ClassModel {
	if !c.superResolved {
		c.superResolved = true
		if c.superName != "" {
			c.super = c.cache.ForName(c.superName)
		}
	}
	return c.super
}

// Outer resolves and caches the outer class model, or nil.
func (c *ClassModel) Outer() *ClassModel {
	if !c.outerResolved {
		c.outerResolved = true
		if c.outerName != "" {
			c.outer = c.cache.ForName(c.outerName)
		}
	}
	return c.outer
}

// AddInterface records an interface merged into this class. Idempotent.
func (c *ClassModel) AddInterface(iface string) {
	for _, existing := range c.interfaces {
		if existing == iface {
			return
		}
	}
	c.interfaces = append(c.interfaces, iface)
}

// AddMethod records a method merged into this class and returns its Member.
func (c *ClassModel) AddMethod(name, desc string, access int, injected bool) *Member {
	m := &Member{
		Kind:         KindMethod,
		OriginalName: name,
		Name:         name,
		Desc:         desc,
		Access:       access,
		Injected:     injected,
		owner:        c,
	}
	c.methods = append(c.methods, m)
	return m
}

// AddField records a field merged into this class and returns its Member.
func (c *ClassModel) AddField(name, desc string, access int, injected bool) *Member {
	f := &Member{
		Kind:         KindField,
		OriginalName: name,
		Name:         name,
		Desc:         desc,
		Access:       access,
		Injected:     injected,
		owner:        c,
	}
	c.fields = append(c.fields, f)
	return f
}

// FindMethod returns a declared method matching name/desc, or nil. Empty
// desc matches any overload.
func (c *ClassModel) FindMethod(name, desc string) *Member {
	return findDeclared(c.methods, name, desc, true)
}

// FindField returns a declared field matching name/desc, or nil.
func (c *ClassModel) FindField(name, desc string) *Member {
	return findDeclared(c.fields, name, desc, true)
}

func findDeclared(members []*Member, name, desc string, includePrivate bool) *Member {
	for _, m := range members {
		if !m.matches(name, desc) {
			continue
		}
		if !includePrivate && m.IsPrivate() {
			continue
		}
		return m
	}
	return nil
}

// FindMethodInHierarchy searches the real superclass chain and, as permitted
// by the traversal policy, the mixin hierarchy attached to each node.
// includePrivate applies only at the starting class; superclass hops always
// exclude private members.
func (c *ClassModel) FindMethodInHierarchy(name, desc string, includePrivate bool, t Traversal) *Member {
	return c.findInHierarchy(KindMethod, name, desc, includePrivate, t)
}

// FindFieldInHierarchy is FindMethodInHierarchy for fields.
func (c *ClassModel) FindFieldInHierarchy(name, desc string, includePrivate bool, t Traversal) *Member {
	return c.findInHierarchy(KindField, name, desc, includePrivate, t)
}

func (c *ClassModel) findInHierarchy(kind MemberKind, name, desc string, includePrivate bool, t Traversal) *Member {
	members := c.methods
	if kind == KindField {
		members = c.fields
	}
	if m := findDeclared(members, name, desc, includePrivate); m != nil {
		return m
	}

	if t.CanTraverse() {
		for _, mixin := range c.mixins {
			// Mixin members surface on the target; reparent the hit so the
			// caller sees it declared on this class.
			if m := mixin.findInHierarchy(kind, name, desc, includePrivate, t.Next()); m != nil {
				return m.CloneFor(c)
			}
		}
	}

	if sup := c.Super(); sup != nil {
		return sup.findInHierarchy(kind, name, desc, false, t.Next())
	}
	return nil
}

// FindSuperClass walks the superclass chain looking for name. The traversal
// policy additionally admits hops through mixins attached to each node, so a
// superclass contributed only by a mixin on an ancestor still resolves.
func (c *ClassModel) FindSuperClass(name string, t Traversal) *ClassModel {
	if sup := c.Super(); sup != nil {
		if sup.name == name {
			return sup
		}
		if found := sup.FindSuperClass(name, t.Next()); found != nil {
			return found
		}
	}
	if t.CanTraverse() {
		for _, mixin := range c.mixins {
			if mixin.name == name {
				return mixin
			}
			if found := mixin.FindSuperClass(name, t); found != nil {
				return found
			}
		}
	}
	return nil
}

// HasSuperClass reports whether name appears in the real or (per traversal)
// mixin-extended ancestry.
func (c *ClassModel) HasSuperClass(name string, t Traversal) bool {
	if name == JavaLangObject {
		return true
	}
	return c.FindSuperClass(name, t) != nil
}

// FindCorrespondingType translates a mixin-relative type reference into the
// real type in this class's context: the nearest ancestor (including this
// class) that the mixin targets. Results are cached per (subject, mixin)
// pair.
func (c *ClassModel) FindCorrespondingType(mixin *ClassModel) *ClassModel {
	if mixin == nil || !mixin.isMixin {
		return nil
	}
	if cached, ok := c.corresponding[mixin]; ok {
		return cached
	}
	var found *ClassModel
	for cur := c; cur != nil; cur = cur.Super() {
		for _, target := range mixin.targets {
			if target == cur {
				found = cur
				break
			}
		}
		if found != nil {
			break
		}
	}
	if c.corresponding == nil {
		c.corresponding = make(map[*ClassModel]*ClassModel)
	}
	c.corresponding[mixin] = found
	return found
}

func newModelFromNode(cache *Cache, node *bytecode.ClassNode, isMixin bool, fingerprint uint64) *ClassModel {
	c := &ClassModel{
		cache:       cache,
		name:        node.Name,
		superName:   node.SuperName,
		outerName:   node.OuterClass,
		access:      node.Access,
		isMixin:     isMixin,
		isInterface: node.Access&bytecode.AccInterface != 0,
		interfaces:  append([]string(nil), node.Interfaces...),
		fingerprint: fingerprint,
	}
	for _, m := range node.Methods {
		c.AddMethod(m.Name, m.Desc, m.Access, false)
	}
	for _, f := range node.Fields {
		c.AddField(f.Name, f.Desc, f.Access, false)
	}
	if c.outerName != "" && node.FindField("this$0", "") == nil {
		c.outerStatic = true
	}
	return c
}
