package apply

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

// InitMode selects where extracted field initializers are spliced into the
// target's constructors.
type InitMode int

const (
	// InitModeDefault splices after the last field the target constructor
	// initializes itself, so mixin fields initialize in declaration-like
	// order with the target's own.
	InitModeDefault InitMode = iota
	// InitModeSafe splices immediately after the super-constructor call,
	// before any target initializer runs.
	InitModeSafe
)

// initGroup is one extracted field initializer: the value-producing
// instruction run ending in the PUTFIELD that stores it.
type initGroup struct {
	field string
	desc  string
	insns []*bytecode.Insn
}

// mergeInitializers extracts field initializers from the mixin's
// constructor and splices them into every target constructor.
func (tr *transform) mergeInitializers(mx *Mixin) error {
	ctors := mx.Node.Constructors()
	if len(ctors) == 0 {
		return nil
	}
	// a mixin has exactly one constructor; extras are a structure error
	if len(ctors) > 1 {
		return invalidMixin(mx.Node.Name, tr.target.Name, "<init>",
			fmt.Errorf("mixin declares %d constructors", len(ctors))).WithRequired(mx.Required)
	}
	groups, err := tr.extractInitializers(mx, ctors[0])
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}
	for _, target := range tr.target.Constructors() {
		tr.spliceInitializers(mx, target, groups)
	}
	return nil
}

// extractInitializers scans the constructor body between the
// super-constructor call and the first return. Each run of value-producing
// instructions closed by a PUTFIELD on the mixin's own field becomes one
// group; anything else in that range is constructor logic, which a mixin
// cannot carry.
func (tr *transform) extractInitializers(mx *Mixin, ctor *bytecode.MethodNode) ([]*initGroup, error) {
	insns := ctor.Insns
	if insns == nil {
		return nil, nil
	}

	start := insns.First()
	for start != nil {
		if start.Kind == bytecode.KindMethod && start.Opcode == bytecode.OpInvokespecial &&
			start.Name == "<init>" && start.Owner == mx.Node.SuperName {
			break
		}
		start = insns.Next(start)
	}
	if start == nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, "<init>",
			fmt.Errorf("constructor never calls the superclass constructor")).WithRequired(mx.Required)
	}

	var groups []*initGroup
	var pending []*bytecode.Insn
	for in := insns.Next(start); in != nil; in = insns.Next(in) {
		if in.IsPseudo() {
			// line boundaries delimit the scan but carry no code
			continue
		}
		if bytecode.IsReturnOpcode(in.Opcode) {
			break
		}
		if err := validateInitializerInsn(in); err != nil {
			return nil, invalidMixin(mx.Node.Name, tr.target.Name, "<init>", err).
				WithRequired(mx.Required)
		}
		pending = append(pending, in)
		if in.Kind == bytecode.KindField && in.Opcode == bytecode.OpPutfield &&
			in.Owner == mx.Node.Name {
			group := bytecode.CloneList(pending)
			for _, g := range group {
				retargetInsn(g, mx.Node.Name, tr.target.Name)
			}
			groups = append(groups, &initGroup{field: in.Name, desc: in.Desc, insns: group})
			pending = nil
		}
	}
	if len(pending) > 0 {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, "<init>",
			fmt.Errorf("constructor contains logic beyond field initializers")).
			WithRequired(mx.Required)
	}
	return groups, nil
}

// validateInitializerInsn rejects instructions that cannot belong to a
// straight-line field initializer.
func validateInitializerInsn(in *bytecode.Insn) error {
	switch in.Kind {
	case bytecode.KindJump, bytecode.KindSwitch:
		return fmt.Errorf("unsupported control flow (%s) in field initializer",
			bytecode.OpcodeName(in.Opcode))
	case bytecode.KindVar:
		// only the receiver may be read; locals do not exist at splice sites
		if in.Opcode == bytecode.OpAload && in.Operand == 0 {
			return nil
		}
		return fmt.Errorf("unsupported local variable access (%s %d) in field initializer",
			bytecode.OpcodeName(in.Opcode), in.Operand)
	}
	return nil
}

// spliceInitializers inserts the groups into one target constructor.
// Delegating constructors (this(...) chains) are skipped; the delegate runs
// the initializers.
func (tr *transform) spliceInitializers(mx *Mixin, ctor *bytecode.MethodNode, groups []*initGroup) {
	super := findSuperCall(ctor, tr.target)
	if super == nil {
		debug.LogApply(debug.LevelDebug, "%s: skipping delegating constructor %s%s",
			mx.Node.Name, ctor.Name, ctor.Desc)
		return
	}

	at := super
	if tr.ap.InitMode == InitModeDefault {
		at = lastOwnInitializer(ctor, tr.target, super)
	}

	var insns []*bytecode.Insn
	maxGroup := 0
	for _, g := range groups {
		cloned := bytecode.CloneList(g.insns)
		insns = append(insns, cloned...)
		if len(g.insns) > maxGroup {
			maxGroup = len(g.insns)
		}
	}
	cursor := at
	for _, in := range insns {
		ctor.Insns.InsertAfter(cursor, in)
		cursor = in
	}
	if ctor.MaxStack < maxGroup+2 {
		ctor.MaxStack = maxGroup + 2
	}
	debug.LogApply(debug.LevelDebug, "%s: spliced %d field initializer(s) into %s%s of %s",
		mx.Node.Name, len(groups), ctor.Name, ctor.Desc, tr.target.Name)
}

// findSuperCall locates the constructor's call to the superclass
// constructor, nil when the constructor delegates to a sibling.
func findSuperCall(ctor *bytecode.MethodNode, target *bytecode.ClassNode) *bytecode.Insn {
	if ctor.Insns == nil {
		return nil
	}
	for in := ctor.Insns.First(); in != nil; in = ctor.Insns.Next(in) {
		if in.Kind == bytecode.KindMethod && in.Opcode == bytecode.OpInvokespecial &&
			in.Name == "<init>" {
			if in.Owner == target.SuperName {
				return in
			}
			if in.Owner == target.Name {
				return nil
			}
		}
	}
	return nil
}

// lastOwnInitializer returns the last PUTFIELD on the target itself in the
// straight-line run following the super call, or the super call when the
// constructor initializes nothing before other logic.
func lastOwnInitializer(ctor *bytecode.MethodNode, target *bytecode.ClassNode, super *bytecode.Insn) *bytecode.Insn {
	last := super
	for in := ctor.Insns.Next(super); in != nil; in = ctor.Insns.Next(in) {
		if in.IsPseudo() {
			continue
		}
		if in.Kind == bytecode.KindJump || in.Kind == bytecode.KindSwitch ||
			bytecode.IsReturnOpcode(in.Opcode) {
			break
		}
		if in.Kind == bytecode.KindField && in.Opcode == bytecode.OpPutfield &&
			in.Owner == target.Name {
			last = in
		}
	}
	return last
}
