package refmap

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hbollon/go-edlib"
)

// PermissiveThreshold is the minimum Jaro-Winkler similarity for a permissive
// name match.
const PermissiveThreshold = 0.95

// MemberSelector identifies a method or field by owner, name and descriptor.
// Empty components match anything; names may carry glob metacharacters.
//
// Accepted textual forms:
//
//	Lnet/game/Entity;tick()V        method with owner
//	Lnet/game/Entity;health:I       field with owner
//	net.game.Entity.tick()V         dotted owner
//	tick()V                         bare method
//	health:I                        bare field
//	tick*                           name pattern, any descriptor
type MemberSelector struct {
	Owner string // internal name, "" matches any owner
	Name  string // may contain glob metacharacters, "" matches any name
	Desc  string // "" matches any descriptor
}

// ParseSelector parses the textual selector forms above.
func ParseSelector(s string) (*MemberSelector, error) {
	sel := &MemberSelector{}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return nil, fmt.Errorf("empty member selector")
	}

	if strings.HasPrefix(rest, "L") {
		end := strings.IndexByte(rest, ';')
		if end < 0 {
			return nil, fmt.Errorf("selector %q: unterminated owner reference", s)
		}
		sel.Owner = rest[1:end]
		rest = rest[end+1:]
	} else if dot := ownerSplit(rest); dot >= 0 {
		sel.Owner = strings.ReplaceAll(rest[:dot], ".", "/")
		rest = rest[dot+1:]
	}

	if paren := strings.IndexByte(rest, '('); paren >= 0 {
		sel.Name = rest[:paren]
		sel.Desc = rest[paren:]
	} else if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		sel.Name = rest[:colon]
		sel.Desc = rest[colon+1:]
	} else {
		sel.Name = rest
	}

	if sel.Owner != "" && strings.Contains(sel.Owner, ".") {
		return nil, fmt.Errorf("selector %q: owner must use internal or dotted form, not both", s)
	}
	if sel.Name == "" && sel.Desc == "" {
		return nil, fmt.Errorf("selector %q: no member name or descriptor", s)
	}
	return sel, nil
}

// ownerSplit finds the last '.' belonging to a dotted owner prefix, ignoring
// any dots inside a trailing descriptor.
func ownerSplit(s string) int {
	limit := len(s)
	if paren := strings.IndexByte(s, '('); paren >= 0 {
		limit = paren
	} else if colon := strings.IndexByte(s, ':'); colon >= 0 {
		limit = colon
	}
	return strings.LastIndexByte(s[:limit], '.')
}

// MustSelector parses a selector known to be valid at compile time.
func MustSelector(s string) *MemberSelector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// IsWildcard reports whether the name component carries glob metacharacters.
func (sel *MemberSelector) IsWildcard() bool {
	return strings.ContainsAny(sel.Name, "*?[")
}

// Matches reports whether the member identified by owner/name/desc satisfies
// the selector under strict matching rules.
func (sel *MemberSelector) Matches(owner, name, desc string) bool {
	if sel.Owner != "" && sel.Owner != owner {
		return false
	}
	if !sel.matchName(name) {
		return false
	}
	return sel.Desc == "" || sel.Desc == desc
}

func (sel *MemberSelector) matchName(name string) bool {
	if sel.Name == "" {
		return true
	}
	if sel.IsWildcard() {
		ok, err := doublestar.Match(sel.Name, name)
		return err == nil && ok
	}
	return sel.Name == name
}

// MatchesPermissive applies the fuzzy fallback: owner and descriptor must
// still match exactly, but the name may differ by case or minor edits
// (Jaro-Winkler similarity at or above PermissiveThreshold). Callers gate
// this behind RefMap.PermissiveFallbackActive.
func (sel *MemberSelector) MatchesPermissive(owner, name, desc string) bool {
	if sel.Owner != "" && sel.Owner != owner {
		return false
	}
	if sel.Desc != "" && sel.Desc != desc {
		return false
	}
	if sel.Name == "" || sel.IsWildcard() {
		return sel.matchName(name)
	}
	if strings.EqualFold(sel.Name, name) {
		return true
	}
	score, err := edlib.StringsSimilarity(sel.Name, name, edlib.JaroWinkler)
	if err != nil {
		return false
	}
	return float64(score) >= PermissiveThreshold
}

// String renders the selector in the owner-prefixed canonical form.
func (sel *MemberSelector) String() string {
	var sb strings.Builder
	if sel.Owner != "" {
		sb.WriteByte('L')
		sb.WriteString(sel.Owner)
		sb.WriteByte(';')
	}
	sb.WriteString(sel.Name)
	if sel.Desc != "" {
		if !strings.HasPrefix(sel.Desc, "(") {
			sb.WriteByte(':')
		}
		sb.WriteString(sel.Desc)
	}
	return sb.String()
}
