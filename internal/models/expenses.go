package models

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// Expense is a shared cost recorded against a group. Fulfilled is
// derived from the assignment rows and written only by the settlement
// aggregator, never taken from a request body.
type Expense struct {
	ID         int             `json:"id,omitempty" db:"id,omitempty"`
	GroupID    int             `json:"group_id,omitempty" db:"group_id,omitempty"`
	Title      string          `json:"title,omitempty" db:"title,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty" db:"amount,omitempty"`
	Currency   string          `json:"currency,omitempty" db:"currency,omitempty"`
	OccurredAt string          `json:"occurred_at,omitempty" db:"occurred_at,omitempty"`
	Note       sql.NullString  `json:"note,omitempty" db:"note,omitempty"`
	Fulfilled  bool            `json:"fulfilled" db:"fulfilled"`
	PayerID    int             `json:"payer_id,omitempty" db:"payer_id,omitempty"`
	CreatedAt  sql.NullString  `json:"created_at,omitempty" db:"created_at,omitempty"`
}
