package classfile

import (
	"fmt"
	"math"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// encodeCode serializes a method's instruction list into a Code attribute
// payload. Canonical nodes are lowered back to compact encodings: short var
// forms for indexes 0-3, ldc over ldc_w when the pool index fits a byte,
// wide prefixes only when an operand overflows.
func encodeCode(b *poolBuilder, m *bytecode.MethodNode) ([]byte, error) {
	offsets, codeLen, err := assignOffsets(b, m.Insns)
	if err != nil {
		return nil, err
	}

	code := &writer{buf: make([]byte, 0, codeLen)}
	for in := m.Insns.First(); in != nil; in = m.Insns.Next(in) {
		if in.IsPseudo() {
			continue
		}
		if err := emitInsn(code, b, in, offsets); err != nil {
			return nil, err
		}
	}
	if len(code.buf) != codeLen {
		return nil, fmt.Errorf("code length drifted between passes: planned %d, emitted %d", codeLen, len(code.buf))
	}

	labelOffset := func(l *bytecode.Insn, what string) (int, error) {
		off, ok := offsets[l]
		if !ok {
			return 0, fmt.Errorf("%s references a label outside the instruction list", what)
		}
		return off, nil
	}

	out := &writer{}
	out.u16(uint16(m.MaxStack))
	out.u16(uint16(m.MaxLocals))
	out.u32(uint32(len(code.buf)))
	out.raw(code.buf)

	out.u16(uint16(len(m.TryCatch)))
	for _, tc := range m.TryCatch {
		start, err := labelOffset(tc.Start, "exception handler")
		if err != nil {
			return nil, err
		}
		end, err := labelOffset(tc.End, "exception handler")
		if err != nil {
			return nil, err
		}
		handler, err := labelOffset(tc.Handler, "exception handler")
		if err != nil {
			return nil, err
		}
		out.u16(uint16(start))
		out.u16(uint16(end))
		out.u16(uint16(handler))
		if tc.Type != "" {
			out.u16(b.class(tc.Type))
		} else {
			out.u16(0)
		}
	}

	var attrs []func(*writer)
	type lineEntry struct{ pc, line int }
	var lineTable []lineEntry
	for in := m.Insns.First(); in != nil; in = m.Insns.Next(in) {
		if in.Kind == bytecode.KindLine {
			lineTable = append(lineTable, lineEntry{pc: offsets[in], line: in.Line})
		}
	}
	if len(lineTable) > 0 {
		attrs = append(attrs, namedAttr(b, "LineNumberTable", func(w *writer) {
			w.u16(uint16(len(lineTable)))
			for _, e := range lineTable {
				w.u16(uint16(e.pc))
				w.u16(uint16(e.line))
			}
		}))
	}
	if len(m.LocalVars) > 0 {
		type lvEntry struct {
			start, length, index int
			nameIdx, descIdx     uint16
		}
		entries := make([]lvEntry, 0, len(m.LocalVars))
		for _, lv := range m.LocalVars {
			start, err := labelOffset(lv.Start, "local variable")
			if err != nil {
				return nil, err
			}
			end, err := labelOffset(lv.End, "local variable")
			if err != nil {
				return nil, err
			}
			entries = append(entries, lvEntry{
				start:   start,
				length:  end - start,
				index:   lv.Index,
				nameIdx: b.utf8(lv.Name),
				descIdx: b.utf8(lv.Desc),
			})
		}
		attrs = append(attrs, namedAttr(b, "LocalVariableTable", func(w *writer) {
			w.u16(uint16(len(entries)))
			for _, e := range entries {
				w.u16(uint16(e.start))
				w.u16(uint16(e.length))
				w.u16(e.nameIdx)
				w.u16(e.descIdx)
				w.u16(uint16(e.index))
			}
		}))
	}

	out.u16(uint16(len(attrs)))
	for _, emit := range attrs {
		emit(out)
	}
	return out.buf, nil
}

// assignOffsets runs the sizing pass: every node (pseudo nodes included) maps
// to a bytecode offset. Pseudo nodes take the offset of the next real
// instruction, or end-of-code when nothing follows. Constants referenced by
// ldc nodes are interned here so the ldc/ldc_w choice is stable by the
// emission pass.
func assignOffsets(b *poolBuilder, list *bytecode.InsnList) (map[*bytecode.Insn]int, int, error) {
	offsets := make(map[*bytecode.Insn]int, list.Len())
	pc := 0
	for in := list.First(); in != nil; in = list.Next(in) {
		offsets[in] = pc
		if in.IsPseudo() {
			continue
		}
		size, err := insnSize(b, in, pc)
		if err != nil {
			return nil, 0, err
		}
		pc += size
	}
	return offsets, pc, nil
}

func insnSize(b *poolBuilder, in *bytecode.Insn, pc int) (int, error) {
	switch in.Kind {
	case bytecode.KindSimple:
		return 1, nil
	case bytecode.KindIntOperand:
		if in.Opcode == bytecode.OpSipush {
			return 3, nil
		}
		return 2, nil // bipush, newarray
	case bytecode.KindVar:
		if in.Opcode != bytecode.OpRet && in.Operand <= 3 {
			return 1, nil
		}
		if in.Operand <= math.MaxUint8 {
			return 2, nil
		}
		return 4, nil // wide
	case bytecode.KindType, bytecode.KindField:
		return 3, nil
	case bytecode.KindMethod:
		if in.Opcode == bytecode.OpInvokeinterface {
			return 5, nil
		}
		return 3, nil
	case bytecode.KindInvokeDynamic:
		return 5, nil
	case bytecode.KindJump:
		return 3, nil
	case bytecode.KindLdc:
		if in.Const.Kind == bytecode.ConstLong || in.Const.Kind == bytecode.ConstDouble {
			return 3, nil
		}
		if b.loadable(in.Const) <= math.MaxUint8 {
			return 2, nil
		}
		return 3, nil
	case bytecode.KindIinc:
		if in.Operand <= math.MaxUint8 && in.Incr >= math.MinInt8 && in.Incr <= math.MaxInt8 {
			return 3, nil
		}
		return 6, nil // wide
	case bytecode.KindSwitch:
		pad := (4 - (pc+1)%4) % 4
		if in.Opcode == bytecode.OpTableswitch {
			return 1 + pad + 12 + 4*int(in.High-in.Low+1), nil
		}
		return 1 + pad + 8 + 8*len(in.Keys), nil
	case bytecode.KindMultiANewArray:
		return 4, nil
	}
	return 0, fmt.Errorf("cannot size %s node", bytecode.OpcodeName(in.Opcode))
}

func emitInsn(w *writer, b *poolBuilder, in *bytecode.Insn, offsets map[*bytecode.Insn]int) error {
	pc := offsets[in]
	switch in.Kind {
	case bytecode.KindSimple:
		w.u8(uint8(in.Opcode))
	case bytecode.KindIntOperand:
		w.u8(uint8(in.Opcode))
		if in.Opcode == bytecode.OpSipush {
			w.u16(uint16(int16(in.Operand)))
		} else {
			w.u8(uint8(in.Operand))
		}
	case bytecode.KindVar:
		emitVarInsn(w, in)
	case bytecode.KindType:
		w.u8(uint8(in.Opcode))
		w.u16(b.class(in.TypeName))
	case bytecode.KindField:
		w.u8(uint8(in.Opcode))
		w.u16(b.fieldref(in.Owner, in.Name, in.Desc))
	case bytecode.KindMethod:
		itf := in.Opcode == bytecode.OpInvokeinterface
		w.u8(uint8(in.Opcode))
		w.u16(b.methodref(in.Owner, in.Name, in.Desc, itf))
		if itf {
			slots, err := bytecode.ArgSlots(in.Desc)
			if err != nil {
				return fmt.Errorf("invokeinterface %s: %w", in.MemberRef(), err)
			}
			w.u8(uint8(1 + slots))
			w.u8(0)
		}
	case bytecode.KindInvokeDynamic:
		w.u8(uint8(in.Opcode))
		w.u16(b.invokeDynamic(in.BSM, in.Name, in.Desc))
		w.u16(0)
	case bytecode.KindJump:
		target, ok := offsets[in.Target]
		if !ok {
			return fmt.Errorf("%s targets a label outside the instruction list", bytecode.OpcodeName(in.Opcode))
		}
		rel := target - pc
		if rel < math.MinInt16 || rel > math.MaxInt16 {
			return fmt.Errorf("branch offset %d from %s at %d exceeds 16-bit range", rel, bytecode.OpcodeName(in.Opcode), pc)
		}
		w.u8(uint8(in.Opcode))
		w.u16(uint16(int16(rel)))
	case bytecode.KindLdc:
		idx := b.loadable(in.Const)
		switch {
		case in.Const.Kind == bytecode.ConstLong || in.Const.Kind == bytecode.ConstDouble:
			w.u8(bytecode.OpLdc2W)
			w.u16(idx)
		case idx <= math.MaxUint8:
			w.u8(bytecode.OpLdc)
			w.u8(uint8(idx))
		default:
			w.u8(bytecode.OpLdcW)
			w.u16(idx)
		}
	case bytecode.KindIinc:
		if in.Operand <= math.MaxUint8 && in.Incr >= math.MinInt8 && in.Incr <= math.MaxInt8 {
			w.u8(bytecode.OpIinc)
			w.u8(uint8(in.Operand))
			w.u8(uint8(int8(in.Incr)))
		} else {
			w.u8(bytecode.OpWide)
			w.u8(bytecode.OpIinc)
			w.u16(uint16(in.Operand))
			w.u16(uint16(int16(in.Incr)))
		}
	case bytecode.KindSwitch:
		return emitSwitch(w, in, pc, offsets)
	case bytecode.KindMultiANewArray:
		w.u8(uint8(in.Opcode))
		w.u16(b.class(in.TypeName))
		w.u8(uint8(in.Dims))
	default:
		return fmt.Errorf("cannot emit %s node", bytecode.OpcodeName(in.Opcode))
	}
	return nil
}

func emitVarInsn(w *writer, in *bytecode.Insn) {
	op := in.Opcode
	if op != bytecode.OpRet && in.Operand <= 3 {
		// iload_0 through astore_3
		if op >= bytecode.OpIload && op <= bytecode.OpAload {
			w.u8(uint8(bytecode.OpIload0 + (op-bytecode.OpIload)*4 + in.Operand))
		} else {
			w.u8(uint8(bytecode.OpIstore0 + (op-bytecode.OpIstore)*4 + in.Operand))
		}
		return
	}
	if in.Operand <= math.MaxUint8 {
		w.u8(uint8(op))
		w.u8(uint8(in.Operand))
		return
	}
	w.u8(bytecode.OpWide)
	w.u8(uint8(op))
	w.u16(uint16(in.Operand))
}

func emitSwitch(w *writer, in *bytecode.Insn, pc int, offsets map[*bytecode.Insn]int) error {
	rel32 := func(l *bytecode.Insn) (int32, error) {
		target, ok := offsets[l]
		if !ok {
			return 0, fmt.Errorf("%s targets a label outside the instruction list", bytecode.OpcodeName(in.Opcode))
		}
		return int32(target - pc), nil
	}

	w.u8(uint8(in.Opcode))
	for pad := (4 - (pc+1)%4) % 4; pad > 0; pad-- {
		w.u8(0)
	}
	def, err := rel32(in.Default)
	if err != nil {
		return err
	}
	w.u32(uint32(def))
	if in.Opcode == bytecode.OpTableswitch {
		w.u32(uint32(in.Low))
		w.u32(uint32(in.High))
		for _, t := range in.Targets {
			rel, err := rel32(t)
			if err != nil {
				return err
			}
			w.u32(uint32(rel))
		}
		return nil
	}
	w.u32(uint32(len(in.Keys)))
	for i, key := range in.Keys {
		rel, err := rel32(in.Targets[i])
		if err != nil {
			return err
		}
		w.u32(uint32(key))
		w.u32(uint32(rel))
	}
	return nil
}
