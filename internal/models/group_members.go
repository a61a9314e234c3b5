package models

import "database/sql"

// GroupMember is unique per (group_id, user_id).
type GroupMember struct {
	ID        int            `json:"id,omitempty" db:"id,omitempty"`
	GroupID   int            `json:"group_id,omitempty" db:"group_id,omitempty"`
	UserID    int            `json:"user_id,omitempty" db:"user_id,omitempty"`
	Role      Role           `json:"role,omitempty" db:"role,omitempty"`
	Status    MemberStatus   `json:"status,omitempty" db:"status,omitempty"`
	InvitedAt sql.NullString `json:"invited_at,omitempty" db:"invited_at,omitempty"`
	JoinedAt  sql.NullString `json:"joined_at,omitempty" db:"joined_at,omitempty"`
}
