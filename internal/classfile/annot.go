package classfile

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// Annotation element values map to Go payloads as follows:
//
//	primitive constants  bytecode.ConstValue
//	strings              string
//	enum constants       bytecode.EnumValue
//	class literals       bytecode.ConstValue{Kind: ConstClass, Str: <descriptor>}
//	nested annotations   *bytecode.Annotation
//	arrays               []any
func readAnnotations(r *reader, p pool, visible bool) ([]*bytecode.Annotation, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]*bytecode.Annotation, 0, count)
	for i := 0; i < int(count); i++ {
		a, err := readAnnotation(r, p, visible)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func readAnnotation(r *reader, p pool, visible bool) (*bytecode.Annotation, error) {
	typeIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	desc, err := p.utf8(typeIdx)
	if err != nil {
		return nil, err
	}
	a := &bytecode.Annotation{Desc: desc, Visible: visible}
	pairs, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(pairs); i++ {
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := p.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		v, err := readElementValue(r, p, visible)
		if err != nil {
			return nil, err
		}
		a.Values = append(a.Values, bytecode.AnnotationValue{Name: name, Value: v})
	}
	return a, nil
}

func readElementValue(r *reader, p pool, visible bool) (any, error) {
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'B', 'C', 'I', 'S', 'Z', 'J', 'F', 'D':
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		cv, err := p.constValue(idx)
		if err != nil {
			return nil, err
		}
		return cv, nil
	case 's':
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		return p.utf8(idx)
	case 'e':
		typeIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		typeDesc, err := p.utf8(typeIdx)
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := p.utf8(nameIdx)
		if err != nil {
			return nil, err
		}
		return bytecode.EnumValue{Desc: typeDesc, Value: name}, nil
	case 'c':
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		desc, err := p.utf8(idx)
		if err != nil {
			return nil, err
		}
		return bytecode.ConstValue{Kind: bytecode.ConstClass, Str: desc}, nil
	case '@':
		return readAnnotation(r, p, visible)
	case '[':
		n, err := r.u16()
		if err != nil {
			return nil, err
		}
		arr := make([]any, 0, n)
		for i := 0; i < int(n); i++ {
			v, err := readElementValue(r, p, visible)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unknown annotation element tag %q", tag)
}

// writeAnnotations encodes one RuntimeVisible/InvisibleAnnotations payload.
func writeAnnotations(w *writer, b *poolBuilder, anns []*bytecode.Annotation) {
	w.u16(uint16(len(anns)))
	for _, a := range anns {
		writeAnnotation(w, b, a)
	}
}

func writeAnnotation(w *writer, b *poolBuilder, a *bytecode.Annotation) {
	w.u16(b.utf8(a.Desc))
	w.u16(uint16(len(a.Values)))
	for _, v := range a.Values {
		w.u16(b.utf8(v.Name))
		writeElementValue(w, b, v.Value)
	}
}

func writeElementValue(w *writer, b *poolBuilder, v any) {
	switch t := v.(type) {
	case bytecode.ConstValue:
		switch t.Kind {
		case bytecode.ConstInt:
			w.u8('I')
			w.u16(b.integer(int32(t.Int)))
		case bytecode.ConstLong:
			w.u8('J')
			w.u16(b.long(t.Int))
		case bytecode.ConstFloat:
			w.u8('F')
			w.u16(b.float(float32(t.Float)))
		case bytecode.ConstDouble:
			w.u8('D')
			w.u16(b.double(t.Float))
		case bytecode.ConstString:
			w.u8('s')
			w.u16(b.utf8(t.Str))
		case bytecode.ConstClass:
			w.u8('c')
			w.u16(b.utf8(t.Str))
		}
	case string:
		w.u8('s')
		w.u16(b.utf8(t))
	case bytecode.EnumValue:
		w.u8('e')
		w.u16(b.utf8(t.Desc))
		w.u16(b.utf8(t.Value))
	case *bytecode.Annotation:
		w.u8('@')
		writeAnnotation(w, b, t)
	case []any:
		w.u8('[')
		w.u16(uint16(len(t)))
		for _, e := range t {
			writeElementValue(w, b, e)
		}
	default:
		panic(fmt.Sprintf("classfile: unsupported annotation element %T", v))
	}
}
