package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// Constant pool tags (JVM specification 4.4).
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var errIndexOutOfRange = errors.New("index out of range")

// reader is a cursor over big-endian class bytes.
type reader struct {
	data   []byte
	offset int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) remaining() int { return len(r.data) - r.offset }

func (r *reader) u8() (uint8, error) {
	if r.offset+1 > len(r.data) {
		return 0, errIndexOutOfRange
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, errIndexOutOfRange
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, errIndexOutOfRange
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *reader) s8() (int8, error) {
	v, err := r.u8()
	return int8(v), err
}

func (r *reader) s16() (int16, error) {
	v, err := r.u16()
	return int16(v), err
}

func (r *reader) s32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, errIndexOutOfRange
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// cpEntry is one parsed constant pool slot. Long and double entries occupy
// two slots; the second is a zero-tag filler.
type cpEntry struct {
	tag        uint8
	str        string // Utf8 payload
	intBits    uint64 // Integer/Long raw bits
	fltBits    uint64 // Float/Double raw bits
	idx1       uint16 // first reference
	idx2       uint16 // second reference
	handleKind uint8  // MethodHandle reference kind
}

type pool []cpEntry

func readPool(r *reader) (pool, error) {
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	p := make(pool, 1, count)
	for len(p) < int(count) {
		tag, err := r.u8()
		if err != nil {
			return nil, err
		}
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			n, err := r.u16()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			e.str = string(b)
		case tagInteger, tagFloat:
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			if tag == tagInteger {
				e.intBits = uint64(v)
			} else {
				e.fltBits = uint64(v)
			}
		case tagLong, tagDouble:
			hi, err := r.u32()
			if err != nil {
				return nil, err
			}
			lo, err := r.u32()
			if err != nil {
				return nil, err
			}
			v := uint64(hi)<<32 | uint64(lo)
			if tag == tagLong {
				e.intBits = v
			} else {
				e.fltBits = v
			}
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			if e.idx1, err = r.u16(); err != nil {
				return nil, err
			}
		case tagMethodHandle:
			if e.handleKind, err = r.u8(); err != nil {
				return nil, err
			}
			if e.idx1, err = r.u16(); err != nil {
				return nil, err
			}
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType,
			tagDynamic, tagInvokeDynamic:
			if e.idx1, err = r.u16(); err != nil {
				return nil, err
			}
			if e.idx2, err = r.u16(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at entry %d", tag, len(p))
		}
		p = append(p, e)
		if tag == tagLong || tag == tagDouble {
			p = append(p, cpEntry{})
		}
	}
	return p, nil
}

func (p pool) entry(i uint16, tags ...uint8) (*cpEntry, error) {
	if int(i) >= len(p) || i == 0 {
		return nil, fmt.Errorf("constant pool index %d out of range", i)
	}
	e := &p[i]
	for _, t := range tags {
		if e.tag == t {
			return e, nil
		}
	}
	return nil, fmt.Errorf("constant pool entry %d has tag %d, expected one of %v", i, e.tag, tags)
}

func (p pool) utf8(i uint16) (string, error) {
	e, err := p.entry(i, tagUtf8)
	if err != nil {
		return "", err
	}
	return e.str, nil
}

// optUtf8 resolves an optional Utf8 reference; index 0 yields "".
func (p pool) optUtf8(i uint16) (string, error) {
	if i == 0 {
		return "", nil
	}
	return p.utf8(i)
}

func (p pool) className(i uint16) (string, error) {
	e, err := p.entry(i, tagClass)
	if err != nil {
		return "", err
	}
	return p.utf8(e.idx1)
}

// optClassName resolves an optional Class reference; index 0 yields "".
func (p pool) optClassName(i uint16) (string, error) {
	if i == 0 {
		return "", nil
	}
	return p.className(i)
}

func (p pool) nameAndType(i uint16) (name, desc string, err error) {
	e, err := p.entry(i, tagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.utf8(e.idx1); err != nil {
		return "", "", err
	}
	desc, err = p.utf8(e.idx2)
	return name, desc, err
}

// memberRef resolves a Fieldref/Methodref/InterfaceMethodref triple.
func (p pool) memberRef(i uint16) (owner, name, desc string, err error) {
	e, err := p.entry(i, tagFieldref, tagMethodref, tagInterfaceMethodref)
	if err != nil {
		return "", "", "", err
	}
	if owner, err = p.className(e.idx1); err != nil {
		return "", "", "", err
	}
	name, desc, err = p.nameAndType(e.idx2)
	return owner, name, desc, err
}

// constValue resolves a loadable constant for ldc/ldc_w/ldc2_w and for
// ConstantValue attributes.
func (p pool) constValue(i uint16) (bytecode.ConstValue, error) {
	e, err := p.entry(i, tagInteger, tagFloat, tagLong, tagDouble, tagString, tagClass)
	if err != nil {
		return bytecode.ConstValue{}, err
	}
	switch e.tag {
	case tagInteger:
		return bytecode.IntConst(int32(e.intBits)), nil
	case tagLong:
		return bytecode.LongConst(int64(e.intBits)), nil
	case tagFloat:
		return bytecode.FloatConst(math.Float32frombits(uint32(e.fltBits))), nil
	case tagDouble:
		return bytecode.DoubleConst(math.Float64frombits(e.fltBits)), nil
	case tagString:
		s, err := p.utf8(e.idx1)
		if err != nil {
			return bytecode.ConstValue{}, err
		}
		return bytecode.StringConst(s), nil
	case tagClass:
		s, err := p.utf8(e.idx1)
		if err != nil {
			return bytecode.ConstValue{}, err
		}
		return bytecode.ClassConst(s), nil
	}
	return bytecode.ConstValue{}, fmt.Errorf("constant pool entry %d is not loadable", i)
}

func (p pool) handle(i uint16) (bytecode.Handle, error) {
	e, err := p.entry(i, tagMethodHandle)
	if err != nil {
		return bytecode.Handle{}, err
	}
	ref, err := p.entry(e.idx1, tagFieldref, tagMethodref, tagInterfaceMethodref)
	if err != nil {
		return bytecode.Handle{}, err
	}
	owner, err := p.className(ref.idx1)
	if err != nil {
		return bytecode.Handle{}, err
	}
	name, desc, err := p.nameAndType(ref.idx2)
	if err != nil {
		return bytecode.Handle{}, err
	}
	return bytecode.Handle{
		Kind:  int(e.handleKind),
		Owner: owner,
		Name:  name,
		Desc:  desc,
		Itf:   ref.tag == tagInterfaceMethodref,
	}, nil
}

// bootstrapArg resolves a BootstrapMethods argument: a loadable constant, a
// method handle or a method type.
func (p pool) bootstrapArg(i uint16) (any, error) {
	if int(i) >= len(p) || i == 0 {
		return nil, fmt.Errorf("constant pool index %d out of range", i)
	}
	switch p[i].tag {
	case tagMethodHandle:
		return p.handle(i)
	case tagMethodType:
		desc, err := p.utf8(p[i].idx1)
		if err != nil {
			return nil, err
		}
		return bytecode.MethodTypeRef{Desc: desc}, nil
	default:
		return p.constValue(i)
	}
}
