package bytecode

import (
	"fmt"
	"strings"
)

// Sort classifies a parsed type descriptor.
type Sort int

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortObject
	SortArray
)

// Type is a parsed JVM type descriptor. The zero value is not valid; use
// ParseType or one of the descriptor helpers.
type Type struct {
	Sort Sort
	// Desc is the raw descriptor, e.g. "I", "Ljava/lang/String;", "[[J".
	Desc string
}

// Primitive singletons used throughout the engine.
var (
	TypeVoid    = Type{Sort: SortVoid, Desc: "V"}
	TypeBoolean = Type{Sort: SortBoolean, Desc: "Z"}
	TypeChar    = Type{Sort: SortChar, Desc: "C"}
	TypeByte    = Type{Sort: SortByte, Desc: "B"}
	TypeShort   = Type{Sort: SortShort, Desc: "S"}
	TypeInt     = Type{Sort: SortInt, Desc: "I"}
	TypeFloat   = Type{Sort: SortFloat, Desc: "F"}
	TypeLong    = Type{Sort: SortLong, Desc: "J"}
	TypeDouble  = Type{Sort: SortDouble, Desc: "D"}
)

// ParseType parses a single field-style type descriptor.
func ParseType(desc string) (Type, error) {
	if desc == "" {
		return Type{}, fmt.Errorf("empty type descriptor")
	}
	switch desc[0] {
	case 'V':
		return TypeVoid, nil
	case 'Z':
		return TypeBoolean, nil
	case 'C':
		return TypeChar, nil
	case 'B':
		return TypeByte, nil
	case 'S':
		return TypeShort, nil
	case 'I':
		return TypeInt, nil
	case 'F':
		return TypeFloat, nil
	case 'J':
		return TypeLong, nil
	case 'D':
		return TypeDouble, nil
	case 'L':
		if !strings.HasSuffix(desc, ";") {
			return Type{}, fmt.Errorf("unterminated object descriptor %q", desc)
		}
		return Type{Sort: SortObject, Desc: desc}, nil
	case '[':
		if _, err := ParseType(desc[1:]); err != nil {
			return Type{}, fmt.Errorf("bad array element in %q: %w", desc, err)
		}
		return Type{Sort: SortArray, Desc: desc}, nil
	}
	return Type{}, fmt.Errorf("unrecognized type descriptor %q", desc)
}

// ObjectType returns the Type for an internal class name such as
// "java/lang/String".
func ObjectType(internalName string) Type {
	return Type{Sort: SortObject, Desc: "L" + internalName + ";"}
}

// InternalName returns the internal class name for object types, or the raw
// descriptor for array types (matching constant-pool CONSTANT_Class usage).
func (t Type) InternalName() string {
	if t.Sort == SortObject {
		return t.Desc[1 : len(t.Desc)-1]
	}
	return t.Desc
}

// ElementType returns the array element type. Panics if t is not an array.
func (t Type) ElementType() Type {
	if t.Sort != SortArray {
		panic("bytecode: ElementType on non-array " + t.Desc)
	}
	elem, _ := ParseType(t.Desc[1:])
	return elem
}

// Size returns the number of local-variable/stack slots the type occupies:
// 2 for long and double, 0 for void, 1 otherwise.
func (t Type) Size() int {
	switch t.Sort {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	default:
		return 1
	}
}

// IsPrimitive reports whether t is a primitive (non-void, non-reference) type.
func (t Type) IsPrimitive() bool {
	return t.Sort != SortVoid && t.Sort != SortObject && t.Sort != SortArray
}

// IsReference reports whether t is an object or array type.
func (t Type) IsReference() bool {
	return t.Sort == SortObject || t.Sort == SortArray
}

// LoadOpcode returns the xLOAD opcode matching this type.
func (t Type) LoadOpcode() int {
	switch t.Sort {
	case SortInt, SortBoolean, SortByte, SortChar, SortShort:
		return OpIload
	case SortLong:
		return OpLload
	case SortFloat:
		return OpFload
	case SortDouble:
		return OpDload
	case SortObject, SortArray:
		return OpAload
	}
	panic("bytecode: no load opcode for " + t.Desc)
}

// StoreOpcode returns the xSTORE opcode matching this type.
func (t Type) StoreOpcode() int {
	switch t.Sort {
	case SortInt, SortBoolean, SortByte, SortChar, SortShort:
		return OpIstore
	case SortLong:
		return OpLstore
	case SortFloat:
		return OpFstore
	case SortDouble:
		return OpDstore
	case SortObject, SortArray:
		return OpAstore
	}
	panic("bytecode: no store opcode for " + t.Desc)
}

// ReturnOpcode returns the xRETURN opcode matching this type.
func (t Type) ReturnOpcode() int {
	switch t.Sort {
	case SortVoid:
		return OpReturn
	case SortInt, SortBoolean, SortByte, SortChar, SortShort:
		return OpIreturn
	case SortLong:
		return OpLreturn
	case SortFloat:
		return OpFreturn
	case SortDouble:
		return OpDreturn
	case SortObject, SortArray:
		return OpAreturn
	}
	panic("bytecode: no return opcode for " + t.Desc)
}

// ArrayLoadOpcode returns the xALOAD opcode that reads an element from an
// array whose element type is t.
func (t Type) ArrayLoadOpcode() int {
	switch t.Sort {
	case SortBoolean, SortByte:
		return OpBaload
	case SortChar:
		return OpCaload
	case SortShort:
		return OpSaload
	case SortInt:
		return OpIaload
	case SortLong:
		return OpLaload
	case SortFloat:
		return OpFaload
	case SortDouble:
		return OpDaload
	case SortObject, SortArray:
		return OpAaload
	}
	panic("bytecode: no array load opcode for " + t.Desc)
}

// ArrayStoreOpcode returns the xASTORE opcode that writes an element into an
// array whose element type is t.
func (t Type) ArrayStoreOpcode() int {
	switch t.Sort {
	case SortBoolean, SortByte:
		return OpBastore
	case SortChar:
		return OpCastore
	case SortShort:
		return OpSastore
	case SortInt:
		return OpIastore
	case SortLong:
		return OpLastore
	case SortFloat:
		return OpFastore
	case SortDouble:
		return OpDastore
	case SortObject, SortArray:
		return OpAastore
	}
	panic("bytecode: no array store opcode for " + t.Desc)
}

// BoxedInternalName returns the java.lang wrapper class internal name for a
// primitive type, or the empty string for reference/void types.
func (t Type) BoxedInternalName() string {
	switch t.Sort {
	case SortBoolean:
		return "java/lang/Boolean"
	case SortChar:
		return "java/lang/Character"
	case SortByte:
		return "java/lang/Byte"
	case SortShort:
		return "java/lang/Short"
	case SortInt:
		return "java/lang/Integer"
	case SortFloat:
		return "java/lang/Float"
	case SortLong:
		return "java/lang/Long"
	case SortDouble:
		return "java/lang/Double"
	}
	return ""
}

// UnboxMethod returns the wrapper-class accessor used to unbox a primitive,
// e.g. "intValue" for int. Empty for reference/void types.
func (t Type) UnboxMethod() string {
	switch t.Sort {
	case SortBoolean:
		return "booleanValue"
	case SortChar:
		return "charValue"
	case SortByte:
		return "byteValue"
	case SortShort:
		return "shortValue"
	case SortInt:
		return "intValue"
	case SortFloat:
		return "floatValue"
	case SortLong:
		return "longValue"
	case SortDouble:
		return "doubleValue"
	}
	return ""
}

// String returns the raw descriptor.
func (t Type) String() string { return t.Desc }

// ArgumentTypes parses a method descriptor and returns its argument types.
func ArgumentTypes(methodDesc string) ([]Type, error) {
	args, _, err := ParseMethodDescriptor(methodDesc)
	return args, err
}

// ReturnType parses a method descriptor and returns its return type.
func ReturnType(methodDesc string) (Type, error) {
	_, ret, err := ParseMethodDescriptor(methodDesc)
	return ret, err
}

// ParseMethodDescriptor splits "(args)ret" into argument and return types.
func ParseMethodDescriptor(desc string) ([]Type, Type, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, Type{}, fmt.Errorf("malformed method descriptor %q", desc)
	}
	var args []Type
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for desc[i] == '[' {
			i++
			if i >= len(desc) {
				return nil, Type{}, fmt.Errorf("truncated array type in %q", desc)
			}
		}
		if desc[i] == 'L' {
			end := strings.IndexByte(desc[i:], ';')
			if end < 0 {
				return nil, Type{}, fmt.Errorf("unterminated object type in %q", desc)
			}
			i += end + 1
		} else {
			i++
		}
		t, err := ParseType(desc[start:i])
		if err != nil {
			return nil, Type{}, err
		}
		args = append(args, t)
	}
	if i >= len(desc) || desc[i] != ')' {
		return nil, Type{}, fmt.Errorf("missing ')' in method descriptor %q", desc)
	}
	ret, err := ParseType(desc[i+1:])
	if err != nil {
		return nil, Type{}, err
	}
	return args, ret, nil
}

// MethodDescriptor assembles a descriptor string from argument and return
// types.
func MethodDescriptor(args []Type, ret Type) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, a := range args {
		sb.WriteString(a.Desc)
	}
	sb.WriteByte(')')
	sb.WriteString(ret.Desc)
	return sb.String()
}

// ArgSlots returns the number of local-variable slots the argument list of a
// method descriptor occupies, not counting the receiver.
func ArgSlots(methodDesc string) (int, error) {
	args, _, err := ParseMethodDescriptor(methodDesc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range args {
		n += a.Size()
	}
	return n, nil
}
