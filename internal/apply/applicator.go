// Package apply implements the mixin applicator: the per-target state
// machine that merges mixin structure into a target class tree (MAIN),
// discovers injection points over the fully merged bodies (PREINJECT) and
// executes the injector rewrites (INJECT). One Transform call runs all three
// passes for one target class; callers serialize concurrent transforms of
// the same class name.
package apply

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
	"github.com/standardbeagle/jweave/internal/hierarchy"
	"github.com/standardbeagle/jweave/internal/inject"
	"github.com/standardbeagle/jweave/internal/injection"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// Applicator owns the cross-transform state: the hierarchy cache, the
// reference map, the session identity and the environment policy knobs.
type Applicator struct {
	Hierarchy *hierarchy.Cache
	RefMap    *refmap.RefMap

	// Session identifies this transformer run; merge markers carrying a
	// different session are stale remnants of a previous incompatible run.
	Session string

	// Export keeps generic signatures on merged members (decompiler-export
	// mode); outside it they are stripped rather than left un-remapped.
	Export bool

	InitMode   InitMode
	Capture    inject.CapturePolicy
	Permissive bool
}

// New creates an applicator with a fresh session identity.
func New(cache *hierarchy.Cache, rm *refmap.RefMap) *Applicator {
	if rm == nil {
		rm = refmap.NewRefMap()
	}
	return &Applicator{
		Hierarchy: cache,
		RefMap:    rm,
		Session:   uuid.NewString(),
	}
}

// transform is the per-target working state for one Transform call.
type transform struct {
	ap     *Applicator
	target *bytecode.ClassNode
	model  *hierarchy.ClassModel

	// one Target per rewritten method, shared by every injector so local
	// allocation and node tracking stay consistent
	targets map[*bytecode.MethodNode]*injection.Target

	bindings []*handlerBinding
}

// handlerBinding ties one built injector Info to its target-method
// selectors and, for constructor redirects, the arbitration inputs for the
// wildcard zero-match rule.
type handlerBinding struct {
	mixin    *Mixin
	info     *inject.Info
	methods  []*refmap.MemberSelector
	ctorType string
	wildcard bool
}

// Transform applies an ordered mixin set to one target class, in place.
// Mixins not targeting the class are ignored. Non-required mixin failures
// drop that mixin and continue; required failures and arbitration conflicts
// abort the transform.
func (ap *Applicator) Transform(target *bytecode.ClassNode, mixins []*Mixin) error {
	applicable := make([]*Mixin, 0, len(mixins))
	for _, mx := range mixins {
		if mx.TargetsClass(target.Name) {
			applicable = append(applicable, mx)
		}
	}
	if len(applicable) == 0 {
		return nil
	}
	// lower priority applies first so higher priority merges on top
	sort.SliceStable(applicable, func(i, j int) bool {
		return applicable[i].Priority < applicable[j].Priority
	})

	tr := &transform{
		ap:      ap,
		target:  target,
		model:   ap.Hierarchy.FromClassNode(target, false),
		targets: make(map[*bytecode.MethodNode]*injection.Target),
	}
	for _, mx := range applicable {
		ap.Hierarchy.AddMixin(ap.Hierarchy.FromClassNode(mx.Node, true), tr.model)
	}

	debug.LogApply(debug.LevelInfo, "transforming %s with %d mixin(s), session %s",
		target.Name, len(applicable), ap.Session)

	// MAIN
	survivors := applicable[:0]
	for _, mx := range applicable {
		if err := tr.applyMain(mx); err != nil {
			if dropped := tr.dropOrFail(mx, err); dropped != nil {
				return dropped
			}
			continue
		}
		survivors = append(survivors, mx)
	}

	// PREINJECT
	discovered := survivors[:0]
	for _, mx := range survivors {
		if err := tr.preinject(mx); err != nil {
			var conflict *jwerrors.ConflictError
			if errors.As(err, &conflict) {
				return err
			}
			if dropped := tr.dropOrFail(mx, err); dropped != nil {
				return dropped
			}
			tr.discardBindings(mx)
			continue
		}
		discovered = append(discovered, mx)
	}

	// INJECT
	for _, mx := range discovered {
		if err := tr.mergeAccessors(mx); err != nil {
			if dropped := tr.dropOrFail(mx, err); dropped != nil {
				return dropped
			}
			tr.discardBindings(mx)
		}
	}
	for _, b := range tr.bindings {
		if err := b.info.Execute(); err != nil {
			var conflict *jwerrors.ConflictError
			if errors.As(err, &conflict) {
				// unresolvable two-mixin conflict, fatal regardless of required
				return err
			}
			if dropped := tr.dropOrFail(b.mixin, err); dropped != nil {
				return dropped
			}
		}
	}
	return tr.checkWildcardConstructors()
}

// dropOrFail applies the failure policy: required mixins propagate, others
// are logged and dropped from the remaining phases.
func (tr *transform) dropOrFail(mx *Mixin, err error) error {
	if mx.Required {
		return err
	}
	debug.LogApply(debug.LevelWarn, "dropping mixin %s from %s: %v",
		mx.Node.Name, tr.target.Name, err)
	return nil
}

func (tr *transform) discardBindings(mx *Mixin) {
	kept := tr.bindings[:0]
	for _, b := range tr.bindings {
		if b.mixin != mx {
			kept = append(kept, b)
		}
	}
	tr.bindings = kept
}

// targetFor returns the shared rewrite wrapper for one target method.
func (tr *transform) targetFor(m *bytecode.MethodNode) (*injection.Target, error) {
	if t, ok := tr.targets[m]; ok {
		return t, nil
	}
	t, err := injection.NewTarget(tr.target.Name, m)
	if err != nil {
		return nil, err
	}
	tr.targets[m] = t
	return t, nil
}

// preinject builds the injector Infos for one mixin's handler methods and
// runs discovery over the merged target methods. No instruction mutates
// here.
func (tr *transform) preinject(mx *Mixin) error {
	for _, m := range mx.Node.Methods {
		if !IsHandler(m) {
			continue
		}
		binding, err := tr.buildBinding(mx, m)
		if err != nil {
			return err
		}
		matched := 0
		for _, tm := range tr.target.Methods {
			if !selectorsMatch(binding.methods, tm) {
				continue
			}
			t, err := tr.targetFor(tm)
			if err != nil {
				return err
			}
			if err := binding.info.Discover(t); err != nil {
				return err
			}
			matched++
		}
		if matched == 0 {
			return jwerrors.NewInjectionError(mx.Node.Name, m.Name+m.Desc,
				fmt.Errorf("no target method matches %v", selectorStrings(binding.methods))).
				WithRequired(mx.Required)
		}
		tr.bindings = append(tr.bindings, binding)
	}
	return nil
}

func selectorsMatch(sels []*refmap.MemberSelector, m *bytecode.MethodNode) bool {
	for _, sel := range sels {
		if sel.Matches("", m.Name, m.Desc) {
			return true
		}
	}
	return false
}

func selectorStrings(sels []*refmap.MemberSelector) []string {
	out := make([]string, len(sels))
	for i, sel := range sels {
		out[i] = sel.String()
	}
	return out
}

// checkWildcardConstructors enforces the wildcard constructor redirect
// rule: a descriptor-less constructor redirect that injected zero times is
// fatal unless another explicit redirect of the same type applied.
func (tr *transform) checkWildcardConstructors() error {
	for _, b := range tr.bindings {
		if !b.wildcard || b.info.Applied() > 0 {
			continue
		}
		explicit := false
		for _, other := range tr.bindings {
			if other != b && !other.wildcard && other.ctorType == b.ctorType &&
				other.info.Applied() > 0 {
				explicit = true
				break
			}
		}
		if explicit {
			continue
		}
		err := jwerrors.NewInjectionError(b.mixin.Node.Name, b.info.HandlerRef(),
			fmt.Errorf("wildcard constructor redirect for %s matched nothing", b.ctorType)).
			WithRequired(b.mixin.Required)
		if dropped := tr.dropOrFail(b.mixin, err); dropped != nil {
			return dropped
		}
	}
	return nil
}
