package inject

import (
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/injection"
)

// CapturePolicy selects how a failed local-variable capture is handled.
type CapturePolicy int

const (
	// CaptureFailHard raises an injection error.
	CaptureFailHard CapturePolicy = iota
	// CaptureFailSoft logs a warning and skips the injection.
	CaptureFailSoft
	// CaptureFailStub rewrites the handler into a throwing stub and injects
	// the call anyway; the failure surfaces only if the stub is reached at
	// runtime.
	CaptureFailStub
)

// Callback injects a handler invocation before each matched instruction,
// passing a callback-info object and optionally the target's arguments and
// captured locals. A cancellable callback additionally emits the cancel
// check and early return.
type Callback struct {
	ID          string // callback id; defaults to the target method name
	Cancellable bool
	Capture     CapturePolicy

	last map[*injection.Target]*callbackState
}

type callbackState struct {
	local      int
	id         string
	returnable bool
}

func (c *Callback) Description() string { return "callback" }

func (c *Callback) AddTargetNode(info *Info, t *injection.Target, node *injection.InjectionNode) error {
	return nil
}

func (c *Callback) Inject(info *Info, t *injection.Target, node *injection.InjectionNode) (bool, error) {
	at := node.Current()
	returnable := t.Return.Sort != bytecode.SortVoid
	atReturn := bytecode.IsReturnOpcode(at.Opcode)

	shape, err := c.validateHandler(info, t)
	if err != nil {
		return false, err
	}
	if shape.wantsLocals {
		available := availableLocalsDesc(t, at)
		if shape.localsDesc != available {
			switch c.Capture {
			case CaptureFailSoft:
				debug.LogInject(debug.LevelWarn,
					"%s skipping capture at %s: locals %s not provably present (have %s)",
					info.HandlerRef(), node, shape.localsDesc, available)
				return false, nil
			case CaptureFailStub:
				stubHandler(info, shape)
			default:
				return false, info.invalidInjection(fmt.Errorf(
					"cannot capture locals %s at %s: local variable table shows %s",
					shape.localsDesc, node, available))
			}
		}
	}

	id := c.ID
	if id == "" {
		id = t.Method.Name
	}

	var insns []*bytecode.Insn
	ciLocal, created := c.callbackLocal(t, id, returnable, atReturn)
	if created {
		ciType := CallbackInfoClass
		if returnable {
			ciType = CallbackInfoReturnableClass
		}
		cancel := bytecode.OpIconst0
		if c.Cancellable {
			cancel = bytecode.OpIconst1
		}
		insns = append(insns,
			bytecode.TypeInsn(bytecode.OpNew, ciType),
			bytecode.NewInsn(bytecode.OpDup),
			bytecode.LdcInsn(bytecode.StringConst(id)),
			bytecode.NewInsn(cancel),
			bytecode.MethodInsn(bytecode.OpInvokespecial, ciType, "<init>", callbackCtorDesc),
			bytecode.VarInsn(bytecode.OpAstore, ciLocal),
		)
	}

	if !info.Handler.IsStatic() {
		insns = append(insns, bytecode.VarInsn(bytecode.OpAload, 0))
	}
	if shape.wantsArgs {
		for i, arg := range t.Args {
			insns = append(insns, bytecode.VarInsn(arg.LoadOpcode(), t.ArgSlot(i)))
		}
	}
	insns = append(insns, bytecode.VarInsn(bytecode.OpAload, ciLocal))
	if shape.wantsLocals {
		if shape.stubbed {
			for _, lt := range shape.localTypes {
				insns = append(insns, defaultValueInsn(lt))
			}
		} else {
			for _, lv := range capturedLocals(t, at) {
				lt, err := bytecode.ParseType(lv.Desc)
				if err != nil {
					return false, info.invalidInjection(fmt.Errorf("captured local %s: %w", lv.Name, err))
				}
				insns = append(insns, bytecode.VarInsn(lt.LoadOpcode(), lv.Index))
			}
		}
	}
	insns = append(insns, info.invokeHandler())

	if c.Cancellable {
		resume := bytecode.Label()
		ciType := CallbackInfoClass
		if returnable {
			ciType = CallbackInfoReturnableClass
		}
		insns = append(insns,
			bytecode.VarInsn(bytecode.OpAload, ciLocal),
			bytecode.MethodInsn(bytecode.OpInvokevirtual, ciType, "isCancelled", "()Z"),
			bytecode.JumpInsn(bytecode.OpIfeq, resume),
		)
		if returnable {
			insns = append(insns,
				bytecode.VarInsn(bytecode.OpAload, ciLocal),
				bytecode.MethodInsn(bytecode.OpInvokevirtual, CallbackInfoReturnableClass,
					"getReturnValue", "()Ljava/lang/Object;"),
			)
			insns = append(insns, unboxInsns(t.Return)...)
			insns = append(insns, bytecode.NewInsn(t.Return.ReturnOpcode()))
		} else {
			insns = append(insns, bytecode.NewInsn(bytecode.OpReturn))
		}
		insns = append(insns, resume)
	}

	t.InsertBefore(at, insns...)
	t.ExtendStack(len(t.Args) + 4)
	debug.LogInject(debug.LevelDebug, "%s injected callback %q before %s in %s.%s",
		info.HandlerRef(), id, at, t.ClassName, t.Name())
	return true, nil
}

// callbackLocal returns the local slot holding the callback info, reusing
// the previously constructed instance when the reuse conditions hold: same
// id, same info shape, not at a return point and not cancellable (a
// cancellable or return-site instance may have diverged state).
func (c *Callback) callbackLocal(t *injection.Target, id string, returnable, atReturn bool) (int, bool) {
	if c.last == nil {
		c.last = make(map[*injection.Target]*callbackState)
	}
	if last, ok := c.last[t]; ok &&
		!c.Cancellable && !atReturn && last.id == id && last.returnable == returnable {
		return last.local, false
	}
	local := t.AllocLocals(1)
	c.last[t] = &callbackState{local: local, id: id, returnable: returnable}
	return local, true
}

// handlerShape captures what the handler's descriptor asks for.
type handlerShape struct {
	wantsArgs   bool
	wantsLocals bool
	localsDesc  string // concatenated descriptors of requested locals
	localTypes  []bytecode.Type
	stubbed     bool
}

// validateHandler checks the handler descriptor against the three accepted
// shapes: (CI)V, (targetArgs..., CI)V, or (targetArgs..., CI, locals...)V.
func (c *Callback) validateHandler(info *Info, t *injection.Target) (*handlerShape, error) {
	args, ret, err := bytecode.ParseMethodDescriptor(info.Handler.Desc)
	if err != nil {
		return nil, info.invalidInjection(err)
	}
	if ret.Sort != bytecode.SortVoid {
		return nil, info.invalidInjection(fmt.Errorf("callback handler must return void, has %s", ret.Desc))
	}

	ciDesc := "L" + CallbackInfoClass + ";"
	if t.Return.Sort != bytecode.SortVoid {
		ciDesc = "L" + CallbackInfoReturnableClass + ";"
	}

	// simple shape: just the callback info
	if len(args) == 1 && args[0].Desc == ciDesc {
		return &handlerShape{}, nil
	}

	// full shape: target args then callback info, optionally locals
	if len(args) >= len(t.Args)+1 {
		ok := true
		for i, want := range t.Args {
			if args[i].Desc != want.Desc {
				ok = false
				break
			}
		}
		if ok && args[len(t.Args)].Desc == ciDesc {
			extras := args[len(t.Args)+1:]
			if len(extras) == 0 {
				return &handlerShape{wantsArgs: true}, nil
			}
			var sb strings.Builder
			for _, e := range extras {
				sb.WriteString(e.Desc)
			}
			return &handlerShape{
				wantsArgs:   true,
				wantsLocals: true,
				localsDesc:  sb.String(),
				localTypes:  extras,
			}, nil
		}
	}

	return nil, info.invalidInjection(fmt.Errorf(
		"handler descriptor %s matches neither (%s)V nor the target argument shape of %s",
		info.Handler.Desc, ciDesc, t.Name()))
}

// capturedLocals returns the locals beyond the arguments whose variable
// table ranges provably cover the instruction, in slot order.
func capturedLocals(t *injection.Target, at *bytecode.Insn) []*bytecode.LocalVar {
	site := t.Insns().IndexOf(at)
	firstFree := t.FirstFreeLocal()
	var out []*bytecode.LocalVar
	for _, lv := range t.Method.LocalVars {
		if lv.Index < firstFree {
			continue
		}
		start := t.Insns().IndexOf(lv.Start)
		end := t.Insns().IndexOf(lv.End)
		if start < 0 || end < 0 || site <= start || site > end {
			continue
		}
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// availableLocalsDesc concatenates the descriptors of the capturable locals
// at the instruction; compared by exact string equality against the
// handler's requested locals as an approximate "table didn't change" check.
func availableLocalsDesc(t *injection.Target, at *bytecode.Insn) string {
	var sb strings.Builder
	for _, lv := range capturedLocals(t, at) {
		sb.WriteString(lv.Desc)
	}
	return sb.String()
}

// stubHandler replaces the handler body with a throwing stub. The call site
// still passes default values for the uncapturable locals; they are never
// read.
func stubHandler(info *Info, shape *handlerShape) {
	shape.stubbed = true
	body := bytecode.NewInsnList()
	for _, in := range throwInsns("java/lang/UnsupportedOperationException",
		fmt.Sprintf("%s: local capture failed for %s", info.Mixin, info.HandlerRef())) {
		body.Append(in)
	}
	info.Handler.Insns = body
	info.Handler.MaxStack = 3
	debug.LogInject(debug.LevelWarn, "%s replaced with throwing stub: local capture failed",
		info.HandlerRef())
}
