package models

import "database/sql"

type Group struct {
	ID           int            `json:"id,omitempty" db:"id,omitempty"`
	Name         string         `json:"name,omitempty" db:"name,omitempty"`
	BaseCurrency string         `json:"base_currency,omitempty" db:"base_currency,omitempty"`
	OwnerID      int            `json:"owner_id,omitempty" db:"owner_id,omitempty"`
	CreatedAt    sql.NullString `json:"created_at,omitempty" db:"created_at,omitempty"`
}
