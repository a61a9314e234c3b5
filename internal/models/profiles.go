package models

import "database/sql"

// Profile is the displayable identity for a user, one-to-one with the
// users row.
type Profile struct {
	UserID    int            `json:"user_id,omitempty" db:"user_id,omitempty"`
	FullName  string         `json:"full_name,omitempty" db:"full_name,omitempty"`
	Phone     sql.NullString `json:"phone,omitempty" db:"phone,omitempty"`
	AvatarURL sql.NullString `json:"avatar_url,omitempty" db:"avatar_url,omitempty"`
}
