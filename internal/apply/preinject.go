package apply

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/inject"
	"github.com/standardbeagle/jweave/internal/point"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// buildBinding turns one annotated handler method into an injector Info
// bound to the merged copy of the handler in the target class. The mixin
// copy only carries the annotations; rewrites call the merged method.
func (tr *transform) buildBinding(mx *Mixin, handler *bytecode.MethodNode) (*handlerBinding, error) {
	merged := tr.target.FindMethod(handler.Name, handler.Desc)
	if merged == nil {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, handler.Name+handler.Desc,
			fmt.Errorf("handler was not merged into the target")).WithRequired(mx.Required)
	}

	var (
		ann      *bytecode.Annotation
		injector inject.Injector
	)
	binding := &handlerBinding{mixin: mx}

	switch {
	case handler.FindAnnotation(AnnInject) != nil:
		ann = handler.FindAnnotation(AnnInject)
		injector = &inject.Callback{
			ID:          ann.GetString("id", ""),
			Cancellable: ann.GetBool("cancellable", false),
			Capture:     capturePolicy(ann, tr.ap.Capture),
		}
	case handler.FindAnnotation(AnnRedirect) != nil:
		ann = handler.FindAnnotation(AnnRedirect)
		r := &inject.Redirect{
			Final: handler.FindAnnotation(AnnFinal) != nil,
		}
		if ints := getInts(ann, "coerce"); len(ints) > 0 {
			r.Coerce = make(map[int]bool, len(ints))
			for _, i := range ints {
				r.Coerce[i] = true
			}
		}
		injector = r
	case handler.FindAnnotation(AnnModifyArg) != nil:
		ann = handler.FindAnnotation(AnnModifyArg)
		injector = &inject.ModifyArg{Index: ann.GetInt("index", -1)}
	case handler.FindAnnotation(AnnModifyArgs) != nil:
		ann = handler.FindAnnotation(AnnModifyArgs)
		injector = &inject.ModifyArgs{}
	case handler.FindAnnotation(AnnModifyConstant) != nil:
		ann = handler.FindAnnotation(AnnModifyConstant)
		injector = &inject.ModifyConstant{}
	default:
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, handler.Name+handler.Desc,
			fmt.Errorf("method carries no injector annotation")).WithRequired(mx.Required)
	}

	points, err := tr.parsePoints(mx, handler, ann)
	if err != nil {
		return nil, err
	}
	if r, ok := injector.(*inject.Redirect); ok {
		for _, p := range points {
			switch pt := p.(type) {
			case point.BeforeFieldAccess:
				r.Array = pt.Array
				r.Fuzz = pt.Fuzz
			case point.BeforeNew:
				binding.ctorType = pt.TypeName
				if pt.CtorDesc == "" {
					r.WildcardCtor = true
					binding.wildcard = true
				}
			}
		}
	}

	selectors, err := tr.parseSelectors(mx, handler, ann)
	if err != nil {
		return nil, err
	}

	binding.methods = selectors
	binding.info = &inject.Info{
		Mixin:    mx.Node.Name,
		Owner:    tr.target.Name,
		Handler:  merged,
		Points:   points,
		Priority: mx.Priority,
		Required: mx.Required,
		Require:  ann.GetInt("require", 0),
		Expect:   ann.GetInt("expect", 0),
		Allow:    ann.GetInt("allow", 0),
		Injector: injector,
	}
	return binding, nil
}

// parsePoints collects the injection point matchers: the "at" annotations,
// plus "constant" annotations for @ModifyConstant (which has no @At form).
func (tr *transform) parsePoints(mx *Mixin, handler *bytecode.MethodNode, ann *bytecode.Annotation) ([]point.InjectionPoint, error) {
	var points []point.InjectionPoint
	for _, at := range ann.GetAnnotations("at") {
		p, err := tr.ap.parseAt(mx.Node.Name, at)
		if err != nil {
			return nil, invalidMixin(mx.Node.Name, tr.target.Name,
				handler.Name+handler.Desc, err).WithRequired(mx.Required)
		}
		points = append(points, p)
	}
	if ann.Desc == AnnModifyConstant {
		// the handler's (T)T shape is the type hint for bare or degraded
		// constant matching
		hint, err := constantTypeHint(handler.Desc)
		if err != nil {
			return nil, invalidMixin(mx.Node.Name, tr.target.Name,
				handler.Name+handler.Desc, err).WithRequired(mx.Required)
		}
		consts := ann.GetAnnotations("constant")
		if len(consts) == 0 {
			points = append(points, point.BeforeConstant{Ordinal: -1, TypeHint: hint})
		}
		for _, c := range consts {
			p := parseConstant(c)
			p.TypeHint = hint
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, handler.Name+handler.Desc,
			fmt.Errorf("injector declares no injection point")).WithRequired(mx.Required)
	}
	return points, nil
}

// constantTypeHint reads the constant type off a (T)T modify-constant
// handler. Static and instance handlers share the shape.
func constantTypeHint(desc string) (bytecode.Type, error) {
	args, ret, err := bytecode.ParseMethodDescriptor(desc)
	if err != nil {
		return bytecode.Type{}, err
	}
	if len(args) != 1 || args[0].Desc != ret.Desc {
		return bytecode.Type{}, fmt.Errorf("constant handler must have shape (T)T, has %s", desc)
	}
	return ret, nil
}

// parseSelectors reads the "method" element, remaps each selector and
// parses it. Selectors match by name and descriptor; a bare name matches
// any overload.
func (tr *transform) parseSelectors(mx *Mixin, handler *bytecode.MethodNode, ann *bytecode.Annotation) ([]*refmap.MemberSelector, error) {
	raw := ann.GetStrings("method")
	if len(raw) == 0 {
		return nil, invalidMixin(mx.Node.Name, tr.target.Name, handler.Name+handler.Desc,
			fmt.Errorf("injector names no target method")).WithRequired(mx.Required)
	}
	out := make([]*refmap.MemberSelector, 0, len(raw))
	for _, r := range raw {
		sel, err := refmap.ParseSelector(tr.ap.RefMap.Remap(mx.Node.Name, r))
		if err != nil {
			return nil, invalidMixin(mx.Node.Name, tr.target.Name, handler.Name+handler.Desc,
				fmt.Errorf("bad method selector %q: %w", r, err)).WithRequired(mx.Required)
		}
		out = append(out, sel)
	}
	return out, nil
}

// capturePolicy resolves the local-capture failure policy: the handler's
// "capture" element overrides the environment default.
func capturePolicy(ann *bytecode.Annotation, def inject.CapturePolicy) inject.CapturePolicy {
	v, ok := ann.Get("capture")
	if !ok {
		return def
	}
	name := ""
	switch t := v.(type) {
	case bytecode.EnumValue:
		name = t.Value
	case string:
		name = t
	}
	switch strings.ToUpper(name) {
	case "HARD":
		return inject.CaptureFailHard
	case "SOFT":
		return inject.CaptureFailSoft
	case "STUB":
		return inject.CaptureFailStub
	}
	return def
}
