package classfile

import (
	"fmt"
	"sort"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
)

// decodedInsn pairs an instruction with its bytecode offset during decoding.
type decodedInsn struct {
	offset int
	insn   *bytecode.Insn
}

type jumpFix struct {
	insn   *bytecode.Insn
	target int
}

type switchFix struct {
	insn    *bytecode.Insn
	def     int
	targets []int
}

// readCode decodes a Code attribute into the method's instruction list.
// Branch offsets become label nodes; wide forms, short var forms and the ldc
// variants are normalized to canonical nodes so the engine never reasons
// about encoding details.
func readCode(r *reader, p pool, m *bytecode.MethodNode) error {
	maxStack, err := r.u16()
	if err != nil {
		return err
	}
	maxLocals, err := r.u16()
	if err != nil {
		return err
	}
	m.MaxStack = int(maxStack)
	m.MaxLocals = int(maxLocals)

	codeLen, err := r.u32()
	if err != nil {
		return err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return err
	}

	decoded, jumps, switches, err := decodeInsns(code, p)
	if err != nil {
		return fmt.Errorf("code of %s%s: %w", m.Name, m.Desc, err)
	}

	// Exception table, offsets resolved to labels below.
	type rawHandler struct {
		start, end, handler int
		catchType           string
	}
	var handlers []rawHandler
	excCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(excCount); i++ {
		var h rawHandler
		v, err := r.u16()
		if err != nil {
			return err
		}
		h.start = int(v)
		if v, err = r.u16(); err != nil {
			return err
		}
		h.end = int(v)
		if v, err = r.u16(); err != nil {
			return err
		}
		h.handler = int(v)
		if v, err = r.u16(); err != nil {
			return err
		}
		if h.catchType, err = p.optClassName(v); err != nil {
			return err
		}
		handlers = append(handlers, h)
	}

	type rawLocal struct {
		start, length, index int
		name, desc, sig      string
	}
	var locals []rawLocal
	lines := make(map[int][]int) // offset -> line numbers

	err = forEachAttribute(r, p, func(name string, data []byte) error {
		ar := newReader(data)
		switch name {
		case "LineNumberTable":
			n, err := ar.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				pc, err := ar.u16()
				if err != nil {
					return err
				}
				line, err := ar.u16()
				if err != nil {
					return err
				}
				lines[int(pc)] = append(lines[int(pc)], int(line))
			}
		case "LocalVariableTable":
			n, err := ar.u16()
			if err != nil {
				return err
			}
			for i := 0; i < int(n); i++ {
				var lv rawLocal
				v, err := ar.u16()
				if err != nil {
					return err
				}
				lv.start = int(v)
				if v, err = ar.u16(); err != nil {
					return err
				}
				lv.length = int(v)
				if v, err = ar.u16(); err != nil {
					return err
				}
				if lv.name, err = p.utf8(v); err != nil {
					return err
				}
				if v, err = ar.u16(); err != nil {
					return err
				}
				if lv.desc, err = p.utf8(v); err != nil {
					return err
				}
				if v, err = ar.u16(); err != nil {
					return err
				}
				lv.index = int(v)
				locals = append(locals, lv)
			}
		case "LocalVariableTypeTable", "StackMapTable":
			// Generic local signatures and frames are recomputable data the
			// rewriting engine does not carry.
		default:
			debug.Printf("dropping unmodeled code attribute %s", name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Labels for every referenced offset, end-of-code included.
	labels := make(map[int]*bytecode.Insn)
	ensure := func(off int) *bytecode.Insn {
		if l, ok := labels[off]; ok {
			return l
		}
		l := bytecode.Label()
		labels[off] = l
		return l
	}
	for _, j := range jumps {
		ensure(j.target)
	}
	for _, s := range switches {
		ensure(s.def)
		for _, t := range s.targets {
			ensure(t)
		}
	}
	for _, h := range handlers {
		ensure(h.start)
		ensure(h.end)
		ensure(h.handler)
	}
	for _, lv := range locals {
		ensure(lv.start)
		ensure(lv.start + lv.length)
	}

	byOffset := make(map[int]*bytecode.Insn, len(decoded))
	for _, d := range decoded {
		byOffset[d.offset] = d.insn
	}

	// Assemble: label, line markers, then the instruction at each offset.
	for _, d := range decoded {
		if l, ok := labels[d.offset]; ok {
			m.Insns.Append(l)
		}
		for _, line := range lines[d.offset] {
			m.Insns.Append(bytecode.LineInsn(line))
		}
		m.Insns.Append(d.insn)
	}
	// Offsets referencing the end of the code array (exception/LVT ranges).
	endOffsets := make([]int, 0, 1)
	for off := range labels {
		if _, ok := byOffset[off]; !ok {
			endOffsets = append(endOffsets, off)
		}
	}
	sort.Ints(endOffsets)
	for _, off := range endOffsets {
		if off != len(code) {
			return fmt.Errorf("branch or range target %d not at an instruction boundary", off)
		}
		m.Insns.Append(labels[off])
	}

	for _, j := range jumps {
		j.insn.Target = labels[j.target]
	}
	for _, s := range switches {
		s.insn.Default = labels[s.def]
		for _, t := range s.targets {
			s.insn.Targets = append(s.insn.Targets, labels[t])
		}
	}
	for _, h := range handlers {
		m.TryCatch = append(m.TryCatch, &bytecode.TryCatchBlock{
			Start:   labels[h.start],
			End:     labels[h.end],
			Handler: labels[h.handler],
			Type:    h.catchType,
		})
	}
	for _, lv := range locals {
		m.LocalVars = append(m.LocalVars, &bytecode.LocalVar{
			Name:      lv.name,
			Desc:      lv.desc,
			Signature: lv.sig,
			Start:     labels[lv.start],
			End:       labels[lv.start+lv.length],
			Index:     lv.index,
		})
	}
	return nil
}

// decodeInsns walks the code array once, producing one node per instruction
// plus branch fixups recorded against absolute code offsets.
func decodeInsns(code []byte, p pool) ([]decodedInsn, []jumpFix, []switchFix, error) {
	r := newReader(code)
	var decoded []decodedInsn
	var jumps []jumpFix
	var switches []switchFix

	for r.remaining() > 0 {
		offset := r.offset
		opByte, err := r.u8()
		if err != nil {
			return nil, nil, nil, err
		}
		op := int(opByte)
		var insn *bytecode.Insn

		switch {
		case op == bytecode.OpBipush:
			v, err := r.s8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.IntInsn(op, int(v))
		case op == bytecode.OpSipush:
			v, err := r.s16()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.IntInsn(op, int(v))
		case op == bytecode.OpNewarray:
			v, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.IntInsn(op, int(v))
		case op == bytecode.OpLdc:
			idx, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			cv, err := p.constValue(uint16(idx))
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.LdcInsn(cv)
		case op == bytecode.OpLdcW || op == bytecode.OpLdc2W:
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			cv, err := p.constValue(idx)
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.LdcInsn(cv)
		case op >= bytecode.OpIload && op <= bytecode.OpAload:
			idx, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.VarInsn(op, int(idx))
		case op >= bytecode.OpIload0 && op <= bytecode.OpAload3:
			base := (op - bytecode.OpIload0) / 4
			insn = bytecode.VarInsn(bytecode.OpIload+base, (op-bytecode.OpIload0)%4)
		case op >= bytecode.OpIstore && op <= bytecode.OpAstore:
			idx, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.VarInsn(op, int(idx))
		case op >= bytecode.OpIstore0 && op <= bytecode.OpAstore3:
			base := (op - bytecode.OpIstore0) / 4
			insn = bytecode.VarInsn(bytecode.OpIstore+base, (op-bytecode.OpIstore0)%4)
		case op == bytecode.OpRet:
			idx, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.VarInsn(op, int(idx))
		case op == bytecode.OpIinc:
			idx, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			incr, err := r.s8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.IincInsn(int(idx), int(incr))
		case op == bytecode.OpWide:
			inner, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			if int(inner) == bytecode.OpIinc {
				incr, err := r.s16()
				if err != nil {
					return nil, nil, nil, err
				}
				insn = bytecode.IincInsn(int(idx), int(incr))
			} else {
				insn = bytecode.VarInsn(int(inner), int(idx))
			}
		case op == bytecode.OpNew || op == bytecode.OpAnewarray ||
			op == bytecode.OpCheckcast || op == bytecode.OpInstanceof:
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			name, err := p.className(idx)
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.TypeInsn(op, name)
		case bytecode.IsFieldOpcode(op):
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			owner, name, desc, err := p.memberRef(idx)
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.FieldInsn(op, owner, name, desc)
		case bytecode.IsInvokeOpcode(op):
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			owner, name, desc, err := p.memberRef(idx)
			if err != nil {
				return nil, nil, nil, err
			}
			if op == bytecode.OpInvokeinterface {
				// count and zero bytes are recomputed on write
				if _, err := r.u16(); err != nil {
					return nil, nil, nil, err
				}
			}
			insn = bytecode.MethodInsn(op, owner, name, desc)
		case op == bytecode.OpInvokedynamic:
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			if _, err := r.u16(); err != nil { // two zero bytes
				return nil, nil, nil, err
			}
			e, err := p.entry(idx, tagInvokeDynamic)
			if err != nil {
				return nil, nil, nil, err
			}
			name, desc, err := p.nameAndType(e.idx2)
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.InvokeDynamicInsn(name, desc, int(e.idx1))
		case bytecode.IsConditionalJump(op) || op == bytecode.OpGoto || op == bytecode.OpJsr:
			rel, err := r.s16()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = bytecode.JumpInsn(op, nil)
			jumps = append(jumps, jumpFix{insn: insn, target: offset + int(rel)})
		case op == bytecode.OpGotoW || op == bytecode.OpJsrW:
			rel, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			// normalize to the short form; the writer re-widens if needed
			norm := bytecode.OpGoto
			if op == bytecode.OpJsrW {
				norm = bytecode.OpJsr
			}
			insn = bytecode.JumpInsn(norm, nil)
			jumps = append(jumps, jumpFix{insn: insn, target: offset + int(rel)})
		case op == bytecode.OpTableswitch:
			if err := skipSwitchPad(r, offset); err != nil {
				return nil, nil, nil, err
			}
			def, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			low, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			high, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			fix := switchFix{def: offset + int(def)}
			for i := int64(low); i <= int64(high); i++ {
				rel, err := r.s32()
				if err != nil {
					return nil, nil, nil, err
				}
				fix.targets = append(fix.targets, offset+int(rel))
			}
			insn = &bytecode.Insn{Opcode: op, Kind: bytecode.KindSwitch, Low: low, High: high}
			fix.insn = insn
			switches = append(switches, fix)
		case op == bytecode.OpLookupswitch:
			if err := skipSwitchPad(r, offset); err != nil {
				return nil, nil, nil, err
			}
			def, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			n, err := r.s32()
			if err != nil {
				return nil, nil, nil, err
			}
			fix := switchFix{def: offset + int(def)}
			insn = &bytecode.Insn{Opcode: op, Kind: bytecode.KindSwitch}
			for i := int32(0); i < n; i++ {
				key, err := r.s32()
				if err != nil {
					return nil, nil, nil, err
				}
				rel, err := r.s32()
				if err != nil {
					return nil, nil, nil, err
				}
				insn.Keys = append(insn.Keys, key)
				fix.targets = append(fix.targets, offset+int(rel))
			}
			fix.insn = insn
			switches = append(switches, fix)
		case op == bytecode.OpMultianewarray:
			idx, err := r.u16()
			if err != nil {
				return nil, nil, nil, err
			}
			name, err := p.className(idx)
			if err != nil {
				return nil, nil, nil, err
			}
			dims, err := r.u8()
			if err != nil {
				return nil, nil, nil, err
			}
			insn = &bytecode.Insn{Opcode: op, Kind: bytecode.KindMultiANewArray, TypeName: name, Dims: int(dims)}
		case op < len(opcodeLengths) && opcodeLengths[op] == 1:
			insn = bytecode.NewInsn(op)
		default:
			return nil, nil, nil, fmt.Errorf("unsupported opcode 0x%02X (%s) at offset %d", op, bytecode.OpcodeName(op), offset)
		}

		decoded = append(decoded, decodedInsn{offset: offset, insn: insn})
	}
	return decoded, jumps, switches, nil
}

// skipSwitchPad consumes the 0-3 alignment bytes following a switch opcode.
func skipSwitchPad(r *reader, opcodeOffset int) error {
	pad := (4 - (opcodeOffset+1)%4) % 4
	_, err := r.bytes(pad)
	return err
}

// opcodeLengths marks the single-byte opcodes; every other length is handled
// explicitly in decodeInsns. Index is the opcode, value 1 means no operands.
var opcodeLengths = func() [202]byte {
	var t [202]byte
	single := func(lo, hi int) {
		for op := lo; op <= hi; op++ {
			t[op] = 1
		}
	}
	single(bytecode.OpNop, bytecode.OpDconst1)
	single(bytecode.OpIaload, bytecode.OpSaload)
	single(bytecode.OpIastore, bytecode.OpSastore)
	single(bytecode.OpPop, bytecode.OpLxor)
	single(bytecode.OpI2l, bytecode.OpDcmpg)
	single(bytecode.OpIreturn, bytecode.OpReturn)
	t[bytecode.OpArraylength] = 1
	t[bytecode.OpAthrow] = 1
	t[bytecode.OpMonitorenter] = 1
	t[bytecode.OpMonitorexit] = 1
	return t
}()
