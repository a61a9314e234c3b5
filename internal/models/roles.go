package models

// Role is a member's privilege level within one group.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// CanModerate reports whether the role may edit group expenses and
// toggle other members' assignments.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleModerator
}

// MemberStatus tracks whether a membership invitation has been accepted.
// The only transition is INVITED -> ACCEPTED; removal is a deletion,
// not a status.
type MemberStatus string

const (
	StatusInvited  MemberStatus = "INVITED"
	StatusAccepted MemberStatus = "ACCEPTED"
)

func (s MemberStatus) Valid() bool {
	return s == StatusInvited || s == StatusAccepted
}
