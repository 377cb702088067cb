package hierarchy

import (
	"fmt"

	"github.com/standardbeagle/jweave/internal/bytecode"
)

// MemberKind distinguishes method and field members.
type MemberKind int

const (
	KindMethod MemberKind = iota
	KindField
)

// Member is structural metadata for one declared method or field. A Member
// belongs to exactly one ClassModel; cross-hierarchy correspondence hands out
// clones reparented to the querying model instead of sharing.
type Member struct {
	Kind MemberKind
	// OriginalName is the name as declared; Name is the current name, which
	// diverges when a merge renames the member (intrinsic displacement,
	// handler decoration).
	OriginalName string
	Name         string
	Desc         string
	Access       int
	// Injected marks members added by a mixin merge as opposed to members
	// present in the original class.
	Injected bool

	owner *ClassModel
}

// Owner returns the declaring class model.
func (m *Member) Owner() *ClassModel { return m.owner }

// IsStatic reports whether the member carries ACC_STATIC.
func (m *Member) IsStatic() bool { return bytecode.IsStatic(m.Access) }

// IsPrivate reports whether the member carries ACC_PRIVATE. Private members
// resolve only at their exact declaring class, never through inheritance.
func (m *Member) IsPrivate() bool { return bytecode.IsPrivate(m.Access) }

// IsFinal reports whether the member carries ACC_FINAL.
func (m *Member) IsFinal() bool { return bytecode.IsFinal(m.Access) }

// Renamed reports whether the member's current name differs from its
// declared name.
func (m *Member) Renamed() bool { return m.Name != m.OriginalName }

// Rename updates the current name, keeping the original for reference
// resolution.
func (m *Member) Rename(name string) { m.Name = name }

// CloneFor returns a copy of the member owned by a different model. Used
// when a lookup resolves through a mixin correspondence and the result must
// appear declared on the real class.
func (m *Member) CloneFor(owner *ClassModel) *Member {
	cp := *m
	cp.owner = owner
	return &cp
}

func (m *Member) String() string {
	if m.Kind == KindField {
		return fmt.Sprintf("%s.%s:%s", m.owner.Name(), m.Name, m.Desc)
	}
	return fmt.Sprintf("%s.%s%s", m.owner.Name(), m.Name, m.Desc)
}

func (m *Member) matches(name, desc string) bool {
	if m.Name != name && m.OriginalName != name {
		return false
	}
	return desc == "" || m.Desc == desc
}
