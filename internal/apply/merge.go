package apply

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

// applyMain runs the structural merge for one mixin: signature policy,
// interfaces, misc attributes, annotations, fields, methods, static
// initializer appending and constructor field initializers.
func (tr *transform) applyMain(mx *Mixin) error {
	tr.mergeSignature(mx)
	tr.mergeInterfaces(mx)
	tr.mergeAttributes(mx)
	tr.mergeAnnotations(mx)
	if err := tr.mergeFields(mx); err != nil {
		return err
	}
	if err := tr.mergeMethods(mx); err != nil {
		return err
	}
	return tr.mergeInitializers(mx)
}

func (tr *transform) mergeSignature(mx *Mixin) {
	if !tr.ap.Export {
		return
	}
	if tr.target.Signature == "" && mx.Node.Signature != "" {
		tr.target.Signature = mx.Node.Signature
	}
}

func (tr *transform) mergeInterfaces(mx *Mixin) {
	for _, iface := range mx.Node.Interfaces {
		if tr.target.HasInterface(iface) {
			continue
		}
		tr.target.Interfaces = append(tr.target.Interfaces, iface)
		tr.model.AddInterface(iface)
		debug.LogApply(debug.LevelDebug, "%s: merged interface %s into %s",
			mx.Node.Name, iface, tr.target.Name)
	}
}

func (tr *transform) mergeAttributes(mx *Mixin) {
	if mx.Node.MajorVersion > tr.target.MajorVersion {
		tr.target.MajorVersion = mx.Node.MajorVersion
		tr.target.MinorVersion = mx.Node.MinorVersion
	}
	if ann := findClassAnnotation(mx.Node, AnnMixin); ann != nil &&
		ann.GetBool("sourceFile", false) && mx.Node.SourceFile != "" {
		tr.target.SourceFile = mx.Node.SourceFile
	}
}

func (tr *transform) mergeAnnotations(mx *Mixin) {
	for _, a := range mx.Node.Annotations {
		if isEngineAnnotation(a.Desc) {
			continue
		}
		if findClassAnnotation(tr.target, a.Desc) == nil {
			tr.target.Annotations = append(tr.target.Annotations, a)
		}
	}
}

func isEngineAnnotation(desc string) bool {
	return strings.HasPrefix(desc, "Ljweave/annotation/")
}

func (tr *transform) mergeFields(mx *Mixin) error {
	for _, f := range mx.Node.Fields {
		if f.FindAnnotation(AnnShadow) != nil {
			if err := tr.applyShadowField(mx, f); err != nil {
				return err
			}
			continue
		}
		tr.addField(mx, f)
	}
	return nil
}

// applyShadowField binds a mixin field alias to the pre-existing target
// field: the target field must exist, receives the shadow's user
// annotations, and loses FINAL when the shadow is @Mutable on a non-private
// field.
func (tr *transform) applyShadowField(mx *Mixin, f *bytecode.FieldNode) error {
	existing := tr.target.FindField(f.Name, f.Desc)
	if existing == nil {
		return invalidMixin(mx.Node.Name, tr.target.Name, f.Name+":"+f.Desc,
			fmt.Errorf("shadow field not found in target")).WithRequired(mx.Required)
	}
	for _, a := range f.Annotations {
		if isEngineAnnotation(a.Desc) {
			continue
		}
		if existing.FindAnnotation(a.Desc) == nil {
			existing.Annotations = append(existing.Annotations, a)
		}
	}
	if f.FindAnnotation(AnnMutable) != nil &&
		!bytecode.IsPrivate(existing.Access) && bytecode.IsFinal(existing.Access) {
		existing.Access &^= bytecode.AccFinal
		debug.LogApply(debug.LevelDebug, "%s: stripped FINAL from %s.%s",
			mx.Node.Name, tr.target.Name, existing.Name)
	}
	return nil
}

func (tr *transform) addField(mx *Mixin, f *bytecode.FieldNode) {
	if tr.target.FindField(f.Name, f.Desc) != nil {
		debug.LogApply(debug.LevelWarn, "%s: field %s.%s already present, keeping target's",
			mx.Node.Name, tr.target.Name, f.Name)
		return
	}
	cp := *f
	if !tr.ap.Export {
		cp.Signature = ""
	}
	cp.Annotations = userAnnotations(f.Annotations)
	tr.target.Fields = append(tr.target.Fields, &cp)
	tr.model.AddField(cp.Name, cp.Desc, cp.Access, true)
}

func userAnnotations(anns []*bytecode.Annotation) []*bytecode.Annotation {
	var out []*bytecode.Annotation
	for _, a := range anns {
		if !isEngineAnnotation(a.Desc) {
			out = append(out, a)
		}
	}
	return out
}

func (tr *transform) mergeMethods(mx *Mixin) error {
	for _, m := range mx.Node.Methods {
		switch {
		case m.IsConstructor():
			// constructors contribute field initializers only (mergeInitializers)
		case m.IsClassInitializer():
			tr.appendClassInitializer(mx, m)
		case IsAccessor(m):
			// accessor stubs generate during the INJECT phase
		case m.FindAnnotation(AnnShadow) != nil:
			if tr.target.FindMethod(m.Name, m.Desc) == nil {
				return invalidMixin(mx.Node.Name, tr.target.Name, m.Name+m.Desc,
					fmt.Errorf("shadow method not found in target")).WithRequired(mx.Required)
			}
		default:
			if err := tr.mergeMethod(mx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeMethod merges one reparented mixin method under the conflict policy:
// same-session merge markers yield to strictly higher priority only, @Final
// is never overwritten, @Intrinsic displaces or skips.
func (tr *transform) mergeMethod(mx *Mixin, m *bytecode.MethodNode) error {
	existing := tr.target.FindMethod(m.Name, m.Desc)
	if existing != nil {
		verdict := tr.arbitrateMerge(mx, m, existing)
		switch verdict {
		case mergeSkip:
			return nil
		case mergeDisplace:
			displaced := "jweave$" + simpleName(mx.Node.Name) + "$" + existing.Name
			debug.LogApply(debug.LevelInfo, "%s: displacing %s.%s%s to %s",
				mx.Node.Name, tr.target.Name, existing.Name, existing.Desc, displaced)
			existing.Name = displaced
			if mem := tr.model.FindMethod(m.Name, m.Desc); mem != nil {
				mem.Rename(displaced)
			}
		case mergeReplace:
			tr.removeTargetMethod(existing)
		}
	}

	merged := tr.prepareMerged(mx, m)
	tr.target.Methods = append(tr.target.Methods, merged)
	if tr.model.FindMethod(merged.Name, merged.Desc) == nil {
		tr.model.AddMethod(merged.Name, merged.Desc, merged.Access, true)
	}
	debug.LogApply(debug.LevelDebug, "%s: merged method %s%s into %s",
		mx.Node.Name, merged.Name, merged.Desc, tr.target.Name)
	return nil
}

type mergeVerdict int

const (
	mergeReplace mergeVerdict = iota
	mergeSkip
	mergeDisplace
)

func (tr *transform) arbitrateMerge(mx *Mixin, incoming, existing *bytecode.MethodNode) mergeVerdict {
	if intrinsic := incoming.FindAnnotation(AnnIntrinsic); intrinsic != nil {
		if intrinsic.GetBool("displace", false) {
			return mergeDisplace
		}
		debug.LogApply(debug.LevelDebug, "%s: intrinsic %s%s already present, skipping",
			mx.Node.Name, existing.Name, existing.Desc)
		return mergeSkip
	}
	if existing.FindAnnotation(AnnFinal) != nil {
		debug.LogApply(debug.LevelWarn, "%s: %s.%s%s is final, cannot overwrite",
			mx.Node.Name, tr.target.Name, existing.Name, existing.Desc)
		return mergeSkip
	}
	marker := markerFor(existing)
	if marker == nil {
		// plain target method; the reparented mixin body replaces it
		return mergeReplace
	}
	if marker.GetString("session", "") != tr.ap.Session {
		debug.LogApply(debug.LevelWarn, "%s: %s%s carries a stale merge from session %s, replacing",
			mx.Node.Name, existing.Name, existing.Desc, marker.GetString("session", "?"))
		return mergeReplace
	}
	if marker.GetBool("final", false) {
		debug.LogApply(debug.LevelWarn, "%s: %s%s was merged final by %s, cannot overwrite",
			mx.Node.Name, existing.Name, existing.Desc, marker.GetString("mixin", "?"))
		return mergeSkip
	}
	if mx.Priority > marker.GetInt("priority", DefaultPriority) {
		debug.LogApply(debug.LevelInfo, "%s (priority %d) overrides %s on %s%s",
			mx.Node.Name, mx.Priority, marker.GetString("mixin", "?"),
			existing.Name, existing.Desc)
		return mergeReplace
	}
	debug.LogApply(debug.LevelWarn, "%s: %s%s already merged by %s with priority >= %d, skipping",
		mx.Node.Name, existing.Name, existing.Desc,
		marker.GetString("mixin", "?"), mx.Priority)
	return mergeSkip
}

func (tr *transform) removeTargetMethod(m *bytecode.MethodNode) {
	for i, existing := range tr.target.Methods {
		if existing == m {
			tr.target.Methods = append(tr.target.Methods[:i], tr.target.Methods[i+1:]...)
			return
		}
	}
}

// prepareMerged clones and reparents a mixin method for insertion into the
// target: self-references rewritten, generic signature stripped outside
// export mode, engine annotations replaced by the session merge marker.
func (tr *transform) prepareMerged(mx *Mixin, m *bytecode.MethodNode) *bytecode.MethodNode {
	merged := cloneMethod(m)
	retargetMethod(merged, mx.Node.Name, tr.target.Name)
	if !tr.ap.Export {
		merged.Signature = ""
	}
	merged.Annotations = append(userAnnotations(m.Annotations),
		mergedMarker(mx.Node.Name, tr.ap.Session, mx.Priority,
			m.FindAnnotation(AnnFinal) != nil))
	return merged
}

// appendClassInitializer appends the mixin's <clinit> body to the target's:
// static initializers are cumulative, never replaced.
func (tr *transform) appendClassInitializer(mx *Mixin, m *bytecode.MethodNode) {
	body := cloneMethod(m)
	retargetMethod(body, mx.Node.Name, tr.target.Name)

	existing := tr.target.FindMethod("<clinit>", "()V")
	if existing == nil {
		body.Annotations = []*bytecode.Annotation{
			mergedMarker(mx.Node.Name, tr.ap.Session, mx.Priority, false),
		}
		tr.target.Methods = append(tr.target.Methods, body)
		return
	}

	// splice ahead of the target's final RETURN
	last := existing.Insns.Last()
	for last != nil && last.Opcode != bytecode.OpReturn {
		last = existing.Insns.Prev(last)
	}
	appended := body.Insns.All()
	// drop the mixin body's trailing RETURN
	for i := len(appended) - 1; i >= 0; i-- {
		if appended[i].Opcode == bytecode.OpReturn {
			appended = append(appended[:i], appended[i+1:]...)
			break
		}
	}
	if last != nil {
		existing.Insns.InsertBefore(last, appended...)
	} else {
		existing.Insns.Append(appended...)
	}
	existing.TryCatch = append(existing.TryCatch, body.TryCatch...)
	if body.MaxStack > existing.MaxStack {
		existing.MaxStack = body.MaxStack
	}
	if body.MaxLocals > existing.MaxLocals {
		existing.MaxLocals = body.MaxLocals
	}
	debug.LogApply(debug.LevelDebug, "%s: appended static initializer to %s",
		mx.Node.Name, tr.target.Name)
}

// cloneMethod deep-copies a method tree, remapping internal label references
// in the instruction list, exception table and variable table.
func cloneMethod(m *bytecode.MethodNode) *bytecode.MethodNode {
	cp := *m
	if m.Insns == nil {
		return &cp
	}
	orig := m.Insns.All()
	cloned := bytecode.CloneList(orig)
	index := make(map[*bytecode.Insn]int, len(orig))
	for i, in := range orig {
		index[in] = i
	}
	remap := func(in *bytecode.Insn) *bytecode.Insn {
		if in == nil {
			return nil
		}
		if i, ok := index[in]; ok {
			return cloned[i]
		}
		return in
	}
	cp.Insns = bytecode.NewInsnList(cloned...)
	cp.TryCatch = nil
	for _, tc := range m.TryCatch {
		cp.TryCatch = append(cp.TryCatch, &bytecode.TryCatchBlock{
			Start:   remap(tc.Start),
			End:     remap(tc.End),
			Handler: remap(tc.Handler),
			Type:    tc.Type,
		})
	}
	cp.LocalVars = nil
	for _, lv := range m.LocalVars {
		c := *lv
		c.Start = remap(lv.Start)
		c.End = remap(lv.End)
		cp.LocalVars = append(cp.LocalVars, &c)
	}
	cp.Annotations = append([]*bytecode.Annotation(nil), m.Annotations...)
	cp.Exceptions = append([]string(nil), m.Exceptions...)
	return &cp
}

func simpleName(internalName string) string {
	return bytecode.SimpleName(internalName)
}
