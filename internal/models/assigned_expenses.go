package models

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// AssignedExpense is one member's owed share of one expense. The sum of
// a given expense's assignment amounts must stay within 0.05 of the
// expense amount at write time.
type AssignedExpense struct {
	ID        int             `json:"id,omitempty" db:"id,omitempty"`
	ExpenseID int             `json:"expense_id,omitempty" db:"expense_id,omitempty"`
	UserID    int             `json:"user_id,omitempty" db:"user_id,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty" db:"amount,omitempty"`
	Fulfilled bool            `json:"fulfilled" db:"fulfilled"`
	CreatedAt sql.NullString  `json:"created_at,omitempty" db:"created_at,omitempty"`
}
