package classfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// writer accumulates big-endian class bytes.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

// poolBuilder interns constants while the class body is assembled, then
// serializes the finished pool ahead of the body.
type poolBuilder struct {
	entries writer
	count   uint16
	index   map[string]uint16
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{count: 1, index: make(map[string]uint16)}
}

// intern returns the index for a key, appending a new entry via emit on a
// miss. wide entries (long/double) consume two slots.
func (b *poolBuilder) intern(key string, wide bool, emit func(w *writer)) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := b.count
	if wide {
		b.count += 2
	} else {
		b.count++
	}
	b.index[key] = idx
	emit(&b.entries)
	return idx
}

func (b *poolBuilder) utf8(s string) uint16 {
	return b.intern("u\x00"+s, false, func(w *writer) {
		w.u8(tagUtf8)
		w.u16(uint16(len(s)))
		w.raw([]byte(s))
	})
}

func (b *poolBuilder) class(name string) uint16 {
	return b.intern("c\x00"+name, false, func(w *writer) {
		nameIdx := b.utf8(name)
		w.u8(tagClass)
		w.u16(nameIdx)
	})
}

func (b *poolBuilder) str(s string) uint16 {
	return b.intern("s\x00"+s, false, func(w *writer) {
		idx := b.utf8(s)
		w.u8(tagString)
		w.u16(idx)
	})
}

func (b *poolBuilder) integer(v int32) uint16 {
	return b.intern(fmt.Sprintf("i\x00%d", v), false, func(w *writer) {
		w.u8(tagInteger)
		w.u32(uint32(v))
	})
}

func (b *poolBuilder) long(v int64) uint16 {
	return b.intern(fmt.Sprintf("l\x00%d", v), true, func(w *writer) {
		w.u8(tagLong)
		w.u32(uint32(uint64(v) >> 32))
		w.u32(uint32(uint64(v)))
	})
}

func (b *poolBuilder) float(v float32) uint16 {
	bits := math.Float32bits(v)
	return b.intern(fmt.Sprintf("f\x00%08x", bits), false, func(w *writer) {
		w.u8(tagFloat)
		w.u32(bits)
	})
}

func (b *poolBuilder) double(v float64) uint16 {
	bits := math.Float64bits(v)
	return b.intern(fmt.Sprintf("d\x00%016x", bits), true, func(w *writer) {
		w.u8(tagDouble)
		w.u32(uint32(bits >> 32))
		w.u32(uint32(bits))
	})
}

func (b *poolBuilder) nameAndType(name, desc string) uint16 {
	return b.intern("n\x00"+name+"\x00"+desc, false, func(w *writer) {
		nameIdx := b.utf8(name)
		descIdx := b.utf8(desc)
		w.u8(tagNameAndType)
		w.u16(nameIdx)
		w.u16(descIdx)
	})
}

func (b *poolBuilder) fieldref(owner, name, desc string) uint16 {
	return b.memberRef(tagFieldref, owner, name, desc)
}

func (b *poolBuilder) methodref(owner, name, desc string, itf bool) uint16 {
	tag := uint8(tagMethodref)
	if itf {
		tag = tagInterfaceMethodref
	}
	return b.memberRef(tag, owner, name, desc)
}

func (b *poolBuilder) memberRef(tag uint8, owner, name, desc string) uint16 {
	key := fmt.Sprintf("m\x00%d\x00%s\x00%s\x00%s", tag, owner, name, desc)
	return b.intern(key, false, func(w *writer) {
		classIdx := b.class(owner)
		natIdx := b.nameAndType(name, desc)
		w.u8(tag)
		w.u16(classIdx)
		w.u16(natIdx)
	})
}

func (b *poolBuilder) methodType(desc string) uint16 {
	return b.intern("t\x00"+desc, false, func(w *writer) {
		idx := b.utf8(desc)
		w.u8(tagMethodType)
		w.u16(idx)
	})
}

func (b *poolBuilder) handle(h bytecode.Handle) uint16 {
	key := fmt.Sprintf("h\x00%d\x00%s\x00%s\x00%s\x00%t", h.Kind, h.Owner, h.Name, h.Desc, h.Itf)
	return b.intern(key, false, func(w *writer) {
		// reference kinds 1-4 point at fields, 5-8 at methods, 9 at
		// interface methods
		var refIdx uint16
		switch {
		case h.Kind >= 1 && h.Kind <= 4:
			refIdx = b.fieldref(h.Owner, h.Name, h.Desc)
		default:
			refIdx = b.methodref(h.Owner, h.Name, h.Desc, h.Itf || h.Kind == 9)
		}
		w.u8(tagMethodHandle)
		w.u8(uint8(h.Kind))
		w.u16(refIdx)
	})
}

func (b *poolBuilder) invokeDynamic(bsm int, name, desc string) uint16 {
	key := fmt.Sprintf("y\x00%d\x00%s\x00%s", bsm, name, desc)
	return b.intern(key, false, func(w *writer) {
		natIdx := b.nameAndType(name, desc)
		w.u8(tagInvokeDynamic)
		w.u16(uint16(bsm))
		w.u16(natIdx)
	})
}

// loadable interns an ldc-style constant and returns its index.
func (b *poolBuilder) loadable(cv bytecode.ConstValue) uint16 {
	switch cv.Kind {
	case bytecode.ConstInt:
		return b.integer(int32(cv.Int))
	case bytecode.ConstLong:
		return b.long(cv.Int)
	case bytecode.ConstFloat:
		return b.float(float32(cv.Float))
	case bytecode.ConstDouble:
		return b.double(cv.Float)
	case bytecode.ConstString:
		return b.str(cv.Str)
	case bytecode.ConstClass:
		return b.class(cv.Str)
	}
	panic("classfile: unloadable constant")
}

// Write serializes a class tree back to class bytes. StackMapTable frames
// are not emitted; the embedding loader is expected to verify with frames
// disabled or recompute them downstream.
func Write(node *bytecode.ClassNode) ([]byte, error) {
	b := newPoolBuilder()
	body := &writer{}

	body.u16(uint16(node.Access))
	body.u16(b.class(node.Name))
	if node.SuperName != "" {
		body.u16(b.class(node.SuperName))
	} else {
		body.u16(0)
	}
	body.u16(uint16(len(node.Interfaces)))
	for _, iface := range node.Interfaces {
		body.u16(b.class(iface))
	}

	body.u16(uint16(len(node.Fields)))
	for _, f := range node.Fields {
		if err := writeField(body, b, f); err != nil {
			return nil, err
		}
	}

	body.u16(uint16(len(node.Methods)))
	for _, m := range node.Methods {
		if err := writeMethod(body, b, node, m); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
		}
	}

	var attrs []func(*writer)
	if node.SourceFile != "" {
		idx := b.utf8(node.SourceFile)
		attrs = append(attrs, namedAttr(b, "SourceFile", func(w *writer) { w.u16(idx) }))
	}
	if node.Signature != "" {
		idx := b.utf8(node.Signature)
		attrs = append(attrs, namedAttr(b, "Signature", func(w *writer) { w.u16(idx) }))
	}
	attrs = appendAnnotationAttrs(attrs, b, node.Annotations)
	if len(node.InnerClasses) > 0 {
		ics := node.InnerClasses
		attrs = append(attrs, namedAttr(b, "InnerClasses", func(w *writer) {
			w.u16(uint16(len(ics)))
			for _, ic := range ics {
				w.u16(b.class(ic.Name))
				if ic.Outer != "" {
					w.u16(b.class(ic.Outer))
				} else {
					w.u16(0)
				}
				if ic.InnerName != "" {
					w.u16(b.utf8(ic.InnerName))
				} else {
					w.u16(0)
				}
				w.u16(uint16(ic.Access))
			}
		}))
	}
	if len(node.BootstrapMethods) > 0 {
		bsms := node.BootstrapMethods
		attrs = append(attrs, namedAttr(b, "BootstrapMethods", func(w *writer) {
			w.u16(uint16(len(bsms)))
			for _, bsm := range bsms {
				w.u16(b.handle(bsm.Method))
				w.u16(uint16(len(bsm.Args)))
				for _, arg := range bsm.Args {
					switch t := arg.(type) {
					case bytecode.Handle:
						w.u16(b.handle(t))
					case bytecode.MethodTypeRef:
						w.u16(b.methodType(t.Desc))
					case bytecode.ConstValue:
						w.u16(b.loadable(t))
					}
				}
			}
		}))
	}
	for _, raw := range node.Attrs {
		attrs = append(attrs, namedAttr(b, raw.Name, func(w *writer) { w.raw(raw.Data) }))
	}

	body.u16(uint16(len(attrs)))
	for _, emit := range attrs {
		emit(body)
	}

	out := &writer{}
	out.u32(magic)
	out.u16(uint16(node.MinorVersion))
	out.u16(uint16(node.MajorVersion))
	out.u16(b.count)
	out.raw(b.entries.buf)
	out.raw(body.buf)
	return out.buf, nil
}

// namedAttr pre-interns the attribute name (interning must happen before the
// pool is serialized) and returns an emitter that writes name, length and
// payload.
func namedAttr(b *poolBuilder, name string, payload func(*writer)) func(*writer) {
	nameIdx := b.utf8(name)
	return func(w *writer) {
		inner := &writer{}
		payload(inner)
		w.u16(nameIdx)
		w.u32(uint32(len(inner.buf)))
		w.raw(inner.buf)
	}
}

func appendAnnotationAttrs(attrs []func(*writer), b *poolBuilder, anns []*bytecode.Annotation) []func(*writer) {
	var visible, invisible []*bytecode.Annotation
	for _, a := range anns {
		if a.Visible {
			visible = append(visible, a)
		} else {
			invisible = append(invisible, a)
		}
	}
	if len(visible) > 0 {
		attrs = append(attrs, namedAttr(b, "RuntimeVisibleAnnotations", func(w *writer) {
			writeAnnotations(w, b, visible)
		}))
	}
	if len(invisible) > 0 {
		attrs = append(attrs, namedAttr(b, "RuntimeInvisibleAnnotations", func(w *writer) {
			writeAnnotations(w, b, invisible)
		}))
	}
	return attrs
}

func writeField(w *writer, b *poolBuilder, f *bytecode.FieldNode) error {
	w.u16(uint16(f.Access))
	w.u16(b.utf8(f.Name))
	w.u16(b.utf8(f.Desc))

	var attrs []func(*writer)
	if f.ConstValue != nil {
		idx := b.loadable(*f.ConstValue)
		attrs = append(attrs, namedAttr(b, "ConstantValue", func(w *writer) { w.u16(idx) }))
	}
	if f.Signature != "" {
		idx := b.utf8(f.Signature)
		attrs = append(attrs, namedAttr(b, "Signature", func(w *writer) { w.u16(idx) }))
	}
	attrs = appendAnnotationAttrs(attrs, b, f.Annotations)

	w.u16(uint16(len(attrs)))
	for _, emit := range attrs {
		emit(w)
	}
	return nil
}

func writeMethod(w *writer, b *poolBuilder, node *bytecode.ClassNode, m *bytecode.MethodNode) error {
	w.u16(uint16(m.Access))
	w.u16(b.utf8(m.Name))
	w.u16(b.utf8(m.Desc))

	var attrs []func(*writer)
	if !m.IsAbstract() && m.Insns != nil && m.Insns.Len() > 0 {
		codePayload, err := encodeCode(b, m)
		if err != nil {
			return err
		}
		attrs = append(attrs, namedAttr(b, "Code", func(w *writer) { w.raw(codePayload) }))
	}
	if len(m.Exceptions) > 0 {
		idxs := make([]uint16, len(m.Exceptions))
		for i, ex := range m.Exceptions {
			idxs[i] = b.class(ex)
		}
		attrs = append(attrs, namedAttr(b, "Exceptions", func(w *writer) {
			w.u16(uint16(len(idxs)))
			for _, idx := range idxs {
				w.u16(idx)
			}
		}))
	}
	if m.Signature != "" {
		idx := b.utf8(m.Signature)
		attrs = append(attrs, namedAttr(b, "Signature", func(w *writer) { w.u16(idx) }))
	}
	attrs = appendAnnotationAttrs(attrs, b, m.Annotations)

	w.u16(uint16(len(attrs)))
	for _, emit := range attrs {
		emit(w)
	}
	return nil
}
