// Package inject implements the injectors: bytecode generators that rewrite
// a target method at instructions matched by injection points. Each injector
// registers candidate nodes during discovery (pass 2) and performs its
// rewrite during execution (pass 3); count bounds are enforced after all
// targets have been attempted.
package inject

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
	"github.com/standardbeagle/jweave/internal/injection"
	"github.com/standardbeagle/jweave/internal/point"
)

// Injector is one rewrite strategy. AddTargetNode runs at discovery time and
// may decorate the node with arbitration metadata; Inject runs at execution
// time and reports whether it actually applied (an arbitration loser returns
// false without error).
type Injector interface {
	Description() string
	AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error
	Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error)
}

// Info binds one handler method to its injection points, count bounds and
// injector strategy. One Info may discover nodes in several target methods.
type Info struct {
	Mixin    string // mixin class the handler came from
	Owner    string // class owning the handler after merge
	Handler  *bytecode.MethodNode
	Points   []point.InjectionPoint
	Priority int
	Required bool

	// Count bounds over successful injections: Require is a hard minimum,
	// Expect a soft minimum (warning), Allow a hard maximum (0 = unlimited).
	Require int
	Expect  int
	Allow   int

	Injector Injector

	targets []*targetNodes
	applied int
}

type targetNodes struct {
	target *injection.Target
	nodes  []*injection.InjectionNode
}

// HandlerRef formats the handler for diagnostics.
func (inf *Info) HandlerRef() string {
	return inf.Handler.Name + inf.Handler.Desc
}

// Discover runs the injection points over one target method and registers
// the matched nodes. No instruction is mutated here; rewriting is deferred
// until every mixin has finished structural merging.
func (inf *Info) Discover(t *injection.Target) error {
	seen := make(map[*bytecode.Insn]bool)
	var nodes []*injection.InjectionNode
	for _, p := range inf.Points {
		for _, in := range p.Find(t.Method.Desc, t.Insns()) {
			if seen[in] {
				continue
			}
			seen[in] = true
			node := t.AddNode(in)
			if err := inf.Injector.AddTargetNode(inf, t, node); err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
	}
	debug.LogInject(debug.LevelDebug, "%s discovered %d node(s) in %s.%s",
		inf.HandlerRef(), len(nodes), t.ClassName, t.Name())
	inf.targets = append(inf.targets, &targetNodes{target: t, nodes: nodes})
	return nil
}

// Execute rewrites every discovered node and enforces the count bounds.
// Nodes whose instruction was removed or replaced by another injector in the
// meantime are an arbitration loss: skipped with a warning, never an error.
func (inf *Info) Execute() error {
	applied := 0
	for _, tn := range inf.targets {
		for _, node := range tn.nodes {
			if node.IsRemoved() || node.IsReplaced() {
				debug.LogInject(debug.LevelWarn, "%s skipping %s: instruction no longer present",
					inf.HandlerRef(), node)
				continue
			}
			ok, err := inf.Injector.Inject(inf, tn.target, node)
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
		}
	}
	inf.applied = applied
	return inf.checkCounts(applied)
}

// Applied returns the successful injection count after Execute.
func (inf *Info) Applied() int { return inf.applied }

func (inf *Info) checkCounts(applied int) error {
	if inf.Require > 0 && applied < inf.Require {
		return jwerrors.NewCountError(inf.Mixin, inf.HandlerRef(),
			fmt.Errorf("required %d injection(s), applied %d", inf.Require, applied)).
			WithRequired(inf.Required)
	}
	if inf.Expect > 0 && applied < inf.Expect {
		debug.LogInject(debug.LevelWarn, "%s in %s expected %d injection(s) but applied %d",
			inf.HandlerRef(), inf.Mixin, inf.Expect, applied)
	}
	if inf.Allow > 0 && applied > inf.Allow {
		return jwerrors.NewCountError(inf.Mixin, inf.HandlerRef(),
			fmt.Errorf("allowed at most %d injection(s), applied %d", inf.Allow, applied)).
			WithRequired(inf.Required)
	}
	return nil
}

// invokeHandler builds the call instruction for the merged handler: static
// handlers via invokestatic, instance handlers via invokespecial since
// merged handlers stay private to the target class.
func (inf *Info) invokeHandler() *bytecode.Insn {
	op := bytecode.OpInvokespecial
	if inf.Handler.IsStatic() {
		op = bytecode.OpInvokestatic
	}
	return bytecode.MethodInsn(op, inf.Owner, inf.Handler.Name, inf.Handler.Desc)
}

// invalidInjection wraps a handler-level validation failure.
func (inf *Info) invalidInjection(err error) error {
	return jwerrors.NewInjectionError(inf.Mixin, inf.HandlerRef(), err).
		WithRequired(inf.Required)
}
