package point

import (
	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// BeforeInvoke matches method invocation instructions whose resolved target
// satisfies the selector. Strict matching runs first; the permissive fuzzy
// fallback is attempted only when strict matching finds nothing and the
// caller has established the permissive gate (remap enabled plus a
// non-default refmap), so fuzzy matching cannot mask selector errors in a
// development environment.
type BeforeInvoke struct {
	Selector   *refmap.MemberSelector
	Ordinal    int
	Permissive bool
}

func (p BeforeInvoke) Find(desc string, insns *bytecode.InsnList) []*bytecode.Insn {
	matches := p.scan(insns, false)
	if len(matches) == 0 && p.Permissive {
		matches = p.scan(insns, true)
		if len(matches) > 0 {
			debug.LogInject(debug.LevelWarn, "selector %s matched %d call(s) only permissively",
				p.Selector, len(matches))
		}
	}
	return applyOrdinal(matches, p.Ordinal)
}

func (p BeforeInvoke) scan(insns *bytecode.InsnList, permissive bool) []*bytecode.Insn {
	var matches []*bytecode.Insn
	for in := insns.First(); in != nil; in = insns.Next(in) {
		if in.Kind != bytecode.KindMethod {
			continue
		}
		if permissive {
			if p.Selector.MatchesPermissive(in.Owner, in.Name, in.Desc) {
				matches = append(matches, in)
			}
		} else if p.Selector.Matches(in.Owner, in.Name, in.Desc) {
			matches = append(matches, in)
		}
	}
	return matches
}
