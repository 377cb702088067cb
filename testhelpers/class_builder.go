// Package testhelpers provides shared utilities for testing the jweave
// bytecode weaving engine.
package testhelpers

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// ClassBuilder provides isolated synthetic class construction for tests
// without shared state. Built classes default to version 52.0 (Java 8).
type ClassBuilder struct {
	node *bytecode.ClassNode
}

// NewClassBuilder creates a public class extending java/lang/Object.
func NewClassBuilder(name string) *ClassBuilder {
	return &ClassBuilder{
		node: &bytecode.ClassNode{
			MajorVersion: 52,
			Access:       bytecode.AccPublic,
			Name:         name,
			SuperName:    "java/lang/Object",
		},
	}
}

// Super sets the superclass.
func (cb *ClassBuilder) Super(name string) *ClassBuilder {
	cb.node.SuperName = name
	return cb
}

// Access replaces the class access flags.
func (cb *ClassBuilder) Access(flags int) *ClassBuilder {
	cb.node.Access = flags
	return cb
}

// Interface appends an implemented interface.
func (cb *ClassBuilder) Interface(name string) *ClassBuilder {
	cb.node.Interfaces = append(cb.node.Interfaces, name)
	return cb
}

// Annotate attaches a class-level annotation.
func (cb *ClassBuilder) Annotate(a *bytecode.Annotation) *ClassBuilder {
	cb.node.Annotations = append(cb.node.Annotations, a)
	return cb
}

// Field adds a field with the given access flags.
func (cb *ClassBuilder) Field(access int, name, desc string) *ClassBuilder {
	cb.node.Fields = append(cb.node.Fields, &bytecode.FieldNode{
		Access: access,
		Name:   name,
		Desc:   desc,
	})
	return cb
}

// AnnotatedField adds a field carrying the given annotations.
func (cb *ClassBuilder) AnnotatedField(access int, name, desc string, anns ...*bytecode.Annotation) *ClassBuilder {
	cb.node.Fields = append(cb.node.Fields, &bytecode.FieldNode{
		Access:      access,
		Name:        name,
		Desc:        desc,
		Annotations: anns,
	})
	return cb
}

// Method adds a method whose body is the given instruction sequence. Stack
// and locals limits are set generously; tests exercise selection and
// rewriting, not verification.
func (cb *ClassBuilder) Method(access int, name, desc string, insns ...*bytecode.Insn) *ClassBuilder {
	cb.node.Methods = append(cb.node.Methods, BuildMethod(access, name, desc, insns...))
	return cb
}

// MethodNode adds a prebuilt method node.
func (cb *ClassBuilder) MethodNode(m *bytecode.MethodNode) *ClassBuilder {
	cb.node.Methods = append(cb.node.Methods, m)
	return cb
}

// DefaultCtor adds a constructor that calls the superclass constructor and
// returns.
func (cb *ClassBuilder) DefaultCtor() *ClassBuilder {
	return cb.Method(bytecode.AccPublic, "<init>", "()V",
		bytecode.VarInsn(bytecode.OpAload, 0),
		bytecode.MethodInsn(bytecode.OpInvokespecial, cb.node.SuperName, "<init>", "()V"),
		bytecode.NewInsn(bytecode.OpReturn),
	)
}

// Build returns the finished class node.
func (cb *ClassBuilder) Build() *bytecode.ClassNode {
	return cb.node
}

// BuildMethod assembles a method node from an instruction sequence.
func BuildMethod(access int, name, desc string, insns ...*bytecode.Insn) *bytecode.MethodNode {
	m := &bytecode.MethodNode{
		Access:    access,
		Name:      name,
		Desc:      desc,
		MaxStack:  8,
		MaxLocals: 8,
		Insns:     bytecode.NewInsnList(),
	}
	for _, in := range insns {
		m.Insns.Append(in)
	}
	return m
}

// Annotation builds an annotation from name/value pairs. Values use the
// payload conventions of the bytecode package (ConstValue, string, []any).
func Annotation(desc string, pairs ...any) *bytecode.Annotation {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("testhelpers: odd annotation pair count for %s", desc))
	}
	a := &bytecode.Annotation{Desc: desc, Visible: true}
	for i := 0; i < len(pairs); i += 2 {
		a.Values = append(a.Values, bytecode.AnnotationValue{
			Name:  pairs[i].(string),
			Value: pairs[i+1],
		})
	}
	return a
}

// ReturnVoid returns the single-instruction body of an empty void method.
func ReturnVoid() *bytecode.Insn { return bytecode.NewInsn(bytecode.OpReturn) }
