package bytecode

import "strings"

// ClassNode is the mutable structural tree for one class. It is the unit the
// applicator rewrites in place and the classfile codec reads and writes.
type ClassNode struct {
	MajorVersion int
	MinorVersion int
	Access       int
	Name         string // internal name, e.g. "net/example/Widget"
	Signature    string // generic signature, "" if absent
	SuperName    string // "" only for java/lang/Object
	Interfaces   []string
	SourceFile   string
	OuterClass   string
	Annotations  []*Annotation
	Fields       []*FieldNode
	Methods      []*MethodNode
	InnerClasses []InnerClass
	// BootstrapMethods backs invokedynamic call sites; Insn.BSM indexes it.
	BootstrapMethods []*BootstrapMethod

	// Attrs carries marker attributes with index-free payloads (Deprecated,
	// Synthetic). Attributes whose payload references the constant pool
	// cannot survive a pool rebuild and are dropped by the reader.
	Attrs []RawAttr
}

// RawAttr is an attribute preserved without interpretation.
type RawAttr struct {
	Name string
	Data []byte
}

// InnerClass is one InnerClasses table record.
type InnerClass struct {
	Name      string // internal name of the inner class
	Outer     string // internal name of the outer class, "" if anonymous
	InnerName string // simple name, "" if anonymous
	Access    int
}

// Handle is a CONSTANT_MethodHandle reference.
type Handle struct {
	Kind  int // JVM reference kind, 1..9
	Owner string
	Name  string
	Desc  string
	Itf   bool
}

// BootstrapMethod is one BootstrapMethods table record. Args hold ConstValue,
// Handle or MethodTypeRef payloads.
type BootstrapMethod struct {
	Method Handle
	Args   []any
}

// MethodTypeRef is a CONSTANT_MethodType bootstrap argument.
type MethodTypeRef struct {
	Desc string
}

// FindMethod returns the declared method with the given name and descriptor,
// or nil.
func (c *ClassNode) FindMethod(name, desc string) *MethodNode {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// FindField returns the declared field with the given name, and optionally
// descriptor (empty desc matches any), or nil.
func (c *ClassNode) FindField(name, desc string) *FieldNode {
	for _, f := range c.Fields {
		if f.Name == name && (desc == "" || f.Desc == desc) {
			return f
		}
	}
	return nil
}

// HasInterface reports whether the class already declares the interface.
func (c *ClassNode) HasInterface(iface string) bool {
	for _, existing := range c.Interfaces {
		if existing == iface {
			return true
		}
	}
	return false
}

// Constructors returns every <init> method.
func (c *ClassNode) Constructors() []*MethodNode {
	var out []*MethodNode
	for _, m := range c.Methods {
		if m.Name == "<init>" {
			out = append(out, m)
		}
	}
	return out
}

// MethodNode is the mutable tree for one method, including its body.
type MethodNode struct {
	Access      int
	Name        string
	Desc        string
	Signature   string
	Exceptions  []string
	Annotations []*Annotation
	MaxStack    int
	MaxLocals   int
	Insns       *InsnList
	TryCatch    []*TryCatchBlock
	LocalVars   []*LocalVar
	Attrs       []RawAttr
}

// IsStatic reports whether the method carries ACC_STATIC.
func (m *MethodNode) IsStatic() bool { return IsStatic(m.Access) }

// IsAbstract reports whether the method has no body.
func (m *MethodNode) IsAbstract() bool {
	return m.Access&(AccAbstract|AccNative) != 0
}

// IsConstructor reports whether the method is <init>.
func (m *MethodNode) IsConstructor() bool { return m.Name == "<init>" }

// IsClassInitializer reports whether the method is <clinit>.
func (m *MethodNode) IsClassInitializer() bool { return m.Name == "<clinit>" }

// FindAnnotation returns the first annotation with the given descriptor, or
// nil.
func (m *MethodNode) FindAnnotation(desc string) *Annotation {
	return findAnnotation(m.Annotations, desc)
}

// TryCatchBlock is one exception-table entry, bounded by label nodes.
type TryCatchBlock struct {
	Start   *Insn
	End     *Insn
	Handler *Insn
	Type    string // internal name of caught type; "" for finally
}

// LocalVar is one local-variable-table entry, bounded by label nodes.
type LocalVar struct {
	Name      string
	Desc      string
	Signature string
	Start     *Insn
	End       *Insn
	Index     int
}

// FieldNode is the mutable tree for one field.
type FieldNode struct {
	Access      int
	Name        string
	Desc        string
	Signature   string
	Annotations []*Annotation
	// ConstValue is the ConstantValue attribute for static finals, nil if
	// absent.
	ConstValue *ConstValue
}

// FindAnnotation returns the first annotation with the given descriptor, or
// nil.
func (f *FieldNode) FindAnnotation(desc string) *Annotation {
	return findAnnotation(f.Annotations, desc)
}

// Annotation is a parsed annotation. Values hold JVM annotation element
// payloads: ConstValue, string, []*Annotation element arrays, EnumValue,
// nested *Annotation, or []any for array elements.
type Annotation struct {
	Desc    string
	Visible bool
	Values  []AnnotationValue
}

// AnnotationValue is one named annotation element.
type AnnotationValue struct {
	Name  string
	Value any
}

// EnumValue is an enum-typed annotation element.
type EnumValue struct {
	Desc  string
	Value string
}

// Get returns the named element value and whether it was present.
func (a *Annotation) Get(name string) (any, bool) {
	for _, v := range a.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return nil, false
}

// GetString returns a string element, or def if absent or mistyped.
func (a *Annotation) GetString(name, def string) string {
	if v, ok := a.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt returns an int element, or def if absent or mistyped.
func (a *Annotation) GetInt(name string, def int) int {
	if v, ok := a.Get(name); ok {
		if c, ok := v.(ConstValue); ok && c.Kind == ConstInt {
			return int(c.Int)
		}
	}
	return def
}

// GetBool returns a boolean element, or def if absent or mistyped.
func (a *Annotation) GetBool(name string, def bool) bool {
	if v, ok := a.Get(name); ok {
		if c, ok := v.(ConstValue); ok && c.Kind == ConstInt {
			return c.Int != 0
		}
	}
	return def
}

// GetStrings returns a string-array element, nil if absent.
func (a *Annotation) GetStrings(name string) []string {
	v, ok := a.Get(name)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, t)
		case ConstValue:
			// class literals and interned strings both carry Str
			if t.Kind == ConstClass || t.Kind == ConstString {
				out = append(out, t.Str)
			}
		}
	}
	return out
}

// GetAnnotations returns a nested-annotation-array element, nil if absent.
// A single nested annotation is returned as a one-element slice, matching
// the repeatable-element convention.
func (a *Annotation) GetAnnotations(name string) []*Annotation {
	v, ok := a.Get(name)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case *Annotation:
		return []*Annotation{t}
	case []any:
		out := make([]*Annotation, 0, len(t))
		for _, e := range t {
			if ann, ok := e.(*Annotation); ok {
				out = append(out, ann)
			}
		}
		return out
	}
	return nil
}

// Set stores a named element, replacing any existing value.
func (a *Annotation) Set(name string, value any) {
	for i := range a.Values {
		if a.Values[i].Name == name {
			a.Values[i].Value = value
			return
		}
	}
	a.Values = append(a.Values, AnnotationValue{Name: name, Value: value})
}

func findAnnotation(anns []*Annotation, desc string) *Annotation {
	for _, a := range anns {
		if a.Desc == desc {
			return a
		}
	}
	return nil
}

// SimpleName returns the class name without its package.
func SimpleName(internalName string) string {
	if i := strings.LastIndexByte(internalName, '/'); i >= 0 {
		return internalName[i+1:]
	}
	return internalName
}
