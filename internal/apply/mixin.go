package apply

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// DefaultPriority is the precedence assigned to mixins that do not declare
// one. Higher numeric priority applies with higher precedence.
const DefaultPriority = 1000

// Mixin is one mixin class prepared for application: the structural tree
// plus the set metadata (targets, priority, required).
type Mixin struct {
	Node     *bytecode.ClassNode
	Targets  []string
	Priority int
	Required bool
}

// NewMixin tags a mixin class tree with explicit set metadata.
func NewMixin(node *bytecode.ClassNode, targets []string, priority int, required bool) *Mixin {
	return &Mixin{Node: node, Targets: targets, Priority: priority, Required: required}
}

// MixinFromAnnotation reads the set metadata off the class's @Mixin
// annotation: value (target names), priority, required.
func MixinFromAnnotation(node *bytecode.ClassNode) (*Mixin, error) {
	ann := findClassAnnotation(node, AnnMixin)
	if ann == nil {
		return nil, fmt.Errorf("%s carries no mixin annotation", node.Name)
	}
	targets := ann.GetStrings("value")
	for i, t := range targets {
		// class constants arrive as descriptors
		targets[i] = strings.TrimSuffix(strings.TrimPrefix(t, "L"), ";")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%s declares no targets", node.Name)
	}
	return &Mixin{
		Node:     node,
		Targets:  targets,
		Priority: ann.GetInt("priority", DefaultPriority),
		Required: ann.GetBool("required", false),
	}, nil
}

func findClassAnnotation(node *bytecode.ClassNode, desc string) *bytecode.Annotation {
	for _, a := range node.Annotations {
		if a.Desc == desc {
			return a
		}
	}
	return nil
}

// TargetsClass reports whether name is one of the declared targets.
func (mx *Mixin) TargetsClass(name string) bool {
	for _, t := range mx.Targets {
		if t == name {
			return true
		}
	}
	return false
}

// IsHandler reports whether a mixin method is an injector handler rather
// than a structural member.
func IsHandler(m *bytecode.MethodNode) bool {
	for _, desc := range []string{AnnInject, AnnRedirect, AnnModifyArg, AnnModifyArgs, AnnModifyConstant} {
		if m.FindAnnotation(desc) != nil {
			return true
		}
	}
	return false
}

// IsAccessor reports whether a mixin method is an accessor or invoker stub.
func IsAccessor(m *bytecode.MethodNode) bool {
	return m.FindAnnotation(AnnAccessor) != nil || m.FindAnnotation(AnnInvoker) != nil
}

// retargetInsn rewrites one instruction's self-references from the mixin
// class to the target class so merged bodies resolve against the class they
// now live in.
func retargetInsn(in *bytecode.Insn, mixinName, targetName string) {
	switch in.Kind {
	case bytecode.KindField, bytecode.KindMethod:
		if in.Owner == mixinName {
			in.Owner = targetName
		}
	case bytecode.KindType:
		if in.TypeName == mixinName {
			in.TypeName = targetName
		}
	case bytecode.KindLdc:
		if in.Const.Kind == bytecode.ConstClass && in.Const.Str == mixinName {
			in.Const.Str = targetName
		}
	}
}

// retargetMethod reparents a mixin method body onto the target class.
func retargetMethod(m *bytecode.MethodNode, mixinName, targetName string) {
	if m.Insns == nil {
		return
	}
	for _, in := range m.Insns.All() {
		retargetInsn(in, mixinName, targetName)
	}
	for _, tc := range m.TryCatch {
		if tc.Type == mixinName {
			tc.Type = targetName
		}
	}
	for _, lv := range m.LocalVars {
		if lv.Desc == "L"+mixinName+";" {
			lv.Desc = "L" + targetName + ";"
		}
	}
}
