package apply

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
	jwerrors "github.com/standardbeagle/jweave/internal/errors"
	"github.com/standardbeagle/jweave/internal/point"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// Annotation vocabulary consumed by the applicator. Mixin classes are
// compiled against the jweave annotation jar; the engine reads the parsed
// annotation trees off the class model.
const (
	AnnMixin     = "Ljweave/annotation/Mixin;"
	AnnShadow    = "Ljweave/annotation/Shadow;"
	AnnMutable   = "Ljweave/annotation/Mutable;"
	AnnFinal     = "Ljweave/annotation/Final;"
	AnnUnique    = "Ljweave/annotation/Unique;"
	AnnOverwrite = "Ljweave/annotation/Overwrite;"
	AnnIntrinsic = "Ljweave/annotation/Intrinsic;"
	AnnAccessor  = "Ljweave/annotation/Accessor;"
	AnnInvoker   = "Ljweave/annotation/Invoker;"

	AnnInject         = "Ljweave/annotation/Inject;"
	AnnRedirect       = "Ljweave/annotation/Redirect;"
	AnnModifyArg      = "Ljweave/annotation/ModifyArg;"
	AnnModifyArgs     = "Ljweave/annotation/ModifyArgs;"
	AnnModifyConstant = "Ljweave/annotation/ModifyConstant;"
	AnnAt             = "Ljweave/annotation/At;"
	AnnConstant       = "Ljweave/annotation/Constant;"

	// AnnMerged is the synthetic marker stamped onto every merged method:
	// elements mixin (class name), session (transformer run id), priority.
	AnnMerged = "Ljweave/annotation/Merged;"
)

// atArgs parses the free-form "key=value" strings of an @At args element.
func atArgs(a *bytecode.Annotation) map[string]string {
	out := make(map[string]string)
	for _, kv := range a.GetStrings("args") {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// parseAt builds the injection point matcher for one @At annotation,
// resolving the target selector through the reference map first.
func (ap *Applicator) parseAt(mixin string, a *bytecode.Annotation) (point.InjectionPoint, error) {
	value := strings.ToUpper(a.GetString("value", ""))
	ordinal := a.GetInt("ordinal", -1)
	args := atArgs(a)

	selector := func() (*refmap.MemberSelector, error) {
		raw := a.GetString("target", "")
		if raw == "" {
			return nil, fmt.Errorf("@At(%s) requires a target selector", value)
		}
		return refmap.ParseSelector(ap.RefMap.Remap(mixin, raw))
	}

	switch value {
	case "HEAD":
		return point.MethodHead{}, nil
	case "RETURN", "TAIL":
		return point.BeforeReturn{Ordinal: ordinal}, nil
	case "INVOKE":
		sel, err := selector()
		if err != nil {
			return nil, err
		}
		return point.BeforeInvoke{
			Selector:   sel,
			Ordinal:    ordinal,
			Permissive: ap.RefMap.PermissiveFallbackActive(ap.Permissive),
		}, nil
	case "FIELD":
		sel, err := selector()
		if err != nil {
			return nil, err
		}
		p := point.BeforeFieldAccess{Selector: sel, Ordinal: ordinal, Opcode: a.GetInt("opcode", -1)}
		switch args["array"] {
		case "get":
			p.Array = point.ArrayGet
		case "set":
			p.Array = point.ArraySet
		case "length":
			p.Array = point.ArrayLength
		}
		if f, ok := args["fuzz"]; ok {
			fmt.Sscanf(f, "%d", &p.Fuzz)
		}
		return p, nil
	case "NEW":
		name := a.GetString("target", "")
		name = strings.TrimSuffix(strings.TrimPrefix(name, "L"), ";")
		if name == "" {
			name = args["class"]
		}
		if name == "" {
			return nil, fmt.Errorf("@At(NEW) requires a class name")
		}
		return point.BeforeNew{
			TypeName: ap.RefMap.Remap(mixin, name),
			CtorDesc: args["ctor"],
			Ordinal:  ordinal,
		}, nil
	case "CONSTANT":
		return parseConstantArgs(args, ordinal)
	}
	return nil, fmt.Errorf("unknown injection point %q", a.GetString("value", ""))
}

// parseConstant builds the constant matcher from a @Constant annotation
// (used by @ModifyConstant, which has no @At).
func parseConstant(a *bytecode.Annotation) point.BeforeConstant {
	p := point.BeforeConstant{
		Null:                 a.GetBool("nullValue", false),
		ExpandZeroConditions: a.GetBool("expandZeroConditions", false),
		Ordinal:              a.GetInt("ordinal", -1),
	}
	if v, ok := a.Get("intValue"); ok {
		if c, isConst := v.(bytecode.ConstValue); isConst {
			n := int32(c.Int)
			p.Int = &n
		}
	}
	if v, ok := a.Get("longValue"); ok {
		if c, isConst := v.(bytecode.ConstValue); isConst {
			n := c.Int
			p.Long = &n
		}
	}
	if v, ok := a.Get("floatValue"); ok {
		if c, isConst := v.(bytecode.ConstValue); isConst {
			f := float32(c.Float)
			p.Float = &f
		}
	}
	if v, ok := a.Get("doubleValue"); ok {
		if c, isConst := v.(bytecode.ConstValue); isConst {
			f := c.Float
			p.Double = &f
		}
	}
	if s := a.GetString("stringValue", ""); s != "" {
		p.String = &s
	}
	if s := a.GetString("classValue", ""); s != "" {
		p.Class = &s
	}
	return p
}

// parseConstantArgs builds a constant matcher from @At(CONSTANT) args.
func parseConstantArgs(args map[string]string, ordinal int) (point.InjectionPoint, error) {
	p := point.BeforeConstant{Ordinal: ordinal}
	set := 0
	for k, v := range args {
		switch k {
		case "nullValue":
			p.Null = v == "true"
			set++
		case "intValue":
			var n int32
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
				return nil, fmt.Errorf("bad intValue %q", v)
			}
			p.Int = &n
			set++
		case "longValue":
			var n int64
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
				return nil, fmt.Errorf("bad longValue %q", v)
			}
			p.Long = &n
			set++
		case "floatValue":
			var f float32
			if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
				return nil, fmt.Errorf("bad floatValue %q", v)
			}
			p.Float = &f
			set++
		case "doubleValue":
			var f float64
			if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
				return nil, fmt.Errorf("bad doubleValue %q", v)
			}
			p.Double = &f
			set++
		case "stringValue":
			s := v
			p.String = &s
			set++
		case "classValue":
			s := v
			p.Class = &s
			set++
		case "expandZeroConditions":
			p.ExpandZeroConditions = v == "true"
		}
	}
	if set == 0 {
		return nil, fmt.Errorf("@At(CONSTANT) requires a value discriminator")
	}
	return p, nil
}

// getInts reads an int-array annotation element.
func getInts(a *bytecode.Annotation, name string) []int {
	v, ok := a.Get(name)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		if c, single := v.(bytecode.ConstValue); single && c.Kind == bytecode.ConstInt {
			return []int{int(c.Int)}
		}
		return nil
	}
	var out []int
	for _, e := range arr {
		if c, isConst := e.(bytecode.ConstValue); isConst && c.Kind == bytecode.ConstInt {
			out = append(out, int(c.Int))
		}
	}
	return out
}

// mergedMarker builds the session merge-marker annotation. Finality is
// recorded on the marker because the merged copy carries only user
// annotations; arbitration reads it back when a later mixin competes for
// the same method.
func mergedMarker(mixin, session string, priority int, final bool) *bytecode.Annotation {
	marked := int32(0)
	if final {
		marked = 1
	}
	return &bytecode.Annotation{
		Desc: AnnMerged,
		Values: []bytecode.AnnotationValue{
			{Name: "mixin", Value: mixin},
			{Name: "session", Value: session},
			{Name: "priority", Value: bytecode.IntConst(int32(priority))},
			{Name: "final", Value: bytecode.IntConst(marked)},
		},
	}
}

// markerFor reads the merge marker off a method, nil if absent.
func markerFor(m *bytecode.MethodNode) *bytecode.Annotation {
	return m.FindAnnotation(AnnMerged)
}

func invalidMixin(mixin, target, member string, err error) *jwerrors.MixinError {
	return jwerrors.NewMixinError(mixin, err).WithTarget(target).WithMember(member)
}
