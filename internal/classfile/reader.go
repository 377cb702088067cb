package classfile

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

const magic = 0xCAFEBABE

// Oldest class file version the codec accepts; earlier versions use shorter
// Code attribute fields.
const (
	minMajorVersion = 45
	minMinorVersion = 3
)

// Parse decodes class bytes into a mutable tree.
func Parse(data []byte) (*bytecode.ClassNode, error) {
	r := newReader(data)
	m, err := r.u32()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("not a class file: bad magic 0x%08X", m)
	}
	minor, err := r.u16()
	if err != nil {
		return nil, err
	}
	major, err := r.u16()
	if err != nil {
		return nil, err
	}
	if major < minMajorVersion || (major == minMajorVersion && minor < minMinorVersion) {
		return nil, fmt.Errorf("unsupported class file version %d.%d", major, minor)
	}

	p, err := readPool(r)
	if err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}

	node := &bytecode.ClassNode{MajorVersion: int(major), MinorVersion: int(minor)}

	access, err := r.u16()
	if err != nil {
		return nil, err
	}
	node.Access = int(access)

	thisClass, err := r.u16()
	if err != nil {
		return nil, err
	}
	if node.Name, err = p.className(thisClass); err != nil {
		return nil, err
	}
	superClass, err := r.u16()
	if err != nil {
		return nil, err
	}
	if node.SuperName, err = p.optClassName(superClass); err != nil {
		return nil, err
	}

	ifaceCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(ifaceCount); i++ {
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := p.className(idx)
		if err != nil {
			return nil, err
		}
		node.Interfaces = append(node.Interfaces, name)
	}

	fieldCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(fieldCount); i++ {
		f, err := readField(r, p)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		node.Fields = append(node.Fields, f)
	}

	methodCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(methodCount); i++ {
		mn, err := readMethod(r, p)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		node.Methods = append(node.Methods, mn)
	}

	if err := readClassAttributes(r, p, node); err != nil {
		return nil, err
	}
	return node, nil
}

func readField(r *reader, p pool) (*bytecode.FieldNode, error) {
	access, err := r.u16()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	f := &bytecode.FieldNode{Access: int(access)}
	if f.Name, err = p.utf8(nameIdx); err != nil {
		return nil, err
	}
	if f.Desc, err = p.utf8(descIdx); err != nil {
		return nil, err
	}
	return f, forEachAttribute(r, p, func(name string, data []byte) error {
		ar := newReader(data)
		switch name {
		case "ConstantValue":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			cv, err := p.constValue(idx)
			if err != nil {
				return err
			}
			f.ConstValue = &cv
		case "Signature":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			if f.Signature, err = p.utf8(idx); err != nil {
				return err
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			anns, err := readAnnotations(ar, p, name == "RuntimeVisibleAnnotations")
			if err != nil {
				return err
			}
			f.Annotations = append(f.Annotations, anns...)
		case "Deprecated", "Synthetic":
			// Index-free markers; not re-modeled, access flags carry them on
			// modern compilers.
		default:
			debug.Printf("dropping unmodeled field attribute %s on %s", name, f.Name)
		}
		return nil
	})
}

func readMethod(r *reader, p pool) (*bytecode.MethodNode, error) {
	access, err := r.u16()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	descIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	m := &bytecode.MethodNode{Access: int(access), Insns: bytecode.NewInsnList()}
	if m.Name, err = p.utf8(nameIdx); err != nil {
		return nil, err
	}
	if m.Desc, err = p.utf8(descIdx); err != nil {
		return nil, err
	}
	return m, forEachAttribute(r, p, func(name string, data []byte) error {
		ar := newReader(data)
		switch name {
		case "Code":
			return readCode(ar, p, m)
		case "Exceptions":
			n, err := ar.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				idx, err := ar.u16()
				if err != nil {
					return err
				}
				ex, err := p.className(idx)
				if err != nil {
					return err
				}
				m.Exceptions = append(m.Exceptions, ex)
			}
		case "Signature":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			if m.Signature, err = p.utf8(idx); err != nil {
				return err
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			anns, err := readAnnotations(ar, p, name == "RuntimeVisibleAnnotations")
			if err != nil {
				return err
			}
			m.Annotations = append(m.Annotations, anns...)
		case "Deprecated", "Synthetic":
		default:
			debug.Printf("dropping unmodeled method attribute %s on %s%s", name, m.Name, m.Desc)
		}
		return nil
	})
}

func readClassAttributes(r *reader, p pool, node *bytecode.ClassNode) error {
	return forEachAttribute(r, p, func(name string, data []byte) error {
		ar := newReader(data)
		switch name {
		case "SourceFile":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			sf, err := p.utf8(idx)
			if err != nil {
				return err
			}
			node.SourceFile = sf
		case "Signature":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			sig, err := p.utf8(idx)
			if err != nil {
				return err
			}
			node.Signature = sig
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			anns, err := readAnnotations(ar, p, name == "RuntimeVisibleAnnotations")
			if err != nil {
				return err
			}
			node.Annotations = append(node.Annotations, anns...)
		case "InnerClasses":
			n, err := ar.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				var ic bytecode.InnerClass
				idx, err := ar.u16()
				if err != nil {
					return err
				}
				if ic.Name, err = p.className(idx); err != nil {
					return err
				}
				if idx, err = ar.u16(); err != nil {
					return err
				}
				if ic.Outer, err = p.optClassName(idx); err != nil {
					return err
				}
				if idx, err = ar.u16(); err != nil {
					return err
				}
				if ic.InnerName, err = p.optUtf8(idx); err != nil {
					return err
				}
				acc, err := ar.u16()
				if err != nil {
					return err
				}
				ic.Access = int(acc)
				node.InnerClasses = append(node.InnerClasses, ic)
				if ic.Name == node.Name && ic.Outer != "" {
					node.OuterClass = ic.Outer
				}
			}
		case "EnclosingMethod":
			idx, err := ar.u16()
			if err != nil {
				return err
			}
			outer, err := p.className(idx)
			if err != nil {
				return err
			}
			node.OuterClass = outer
		case "BootstrapMethods":
			n, err := ar.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				idx, err := ar.u16()
				if err != nil {
					return err
				}
				h, err := p.handle(idx)
				if err != nil {
					return err
				}
				bsm := &bytecode.BootstrapMethod{Method: h}
				argc, err := ar.u16()
				if err != nil {
					return err
				}
				for j := 0; j < int(argc); j++ {
					if idx, err = ar.u16(); err != nil {
						return err
					}
					arg, err := p.bootstrapArg(idx)
					if err != nil {
						return err
					}
					bsm.Args = append(bsm.Args, arg)
				}
				node.BootstrapMethods = append(node.BootstrapMethods, bsm)
			}
		case "Deprecated", "Synthetic":
			node.Attrs = append(node.Attrs, bytecode.RawAttr{Name: name})
		default:
			debug.Printf("dropping unmodeled class attribute %s on %s", name, node.Name)
		}
		return nil
	})
}

// forEachAttribute reads a u16-counted attribute table and dispatches each
// entry to fn by resolved name.
func forEachAttribute(r *reader, p pool, fn func(name string, data []byte) error) error {
	count, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		nameIdx, err := r.u16()
		if err != nil {
			return err
		}
		name, err := p.utf8(nameIdx)
		if err != nil {
			return err
		}
		length, err := r.u32()
		if err != nil {
			return err
		}
		data, err := r.bytes(int(length))
		if err != nil {
			return err
		}
		if err := fn(name, data); err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
	}
	return nil
}
