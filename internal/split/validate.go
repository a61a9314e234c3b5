// Package split validates expense-split requests and computes equal
// shares. It is currency-agnostic: callers supply already-rounded share
// amounts and the package only enforces the structural rules and the
// sum tolerance.
package split

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute drift allowed between the expense
// amount and the sum of its shares. It absorbs the rounding remainder
// of equal division (10.00 / 3 -> 3.33 * 3 = 9.99) but rejects larger
// mismatches. Fixed policy, not configurable per group or currency.
var Tolerance = decimal.New(5, -2) // 0.05

// Share is one member's portion of an expense.
type Share struct {
	UserID int             `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Request is a split as submitted by a client, before persistence.
type Request struct {
	Title  string
	Amount decimal.Decimal
	Shares []Share
}

// ValidationError names the rule a rejected request violated.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func ruleError(rule, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the structural and numeric rules for a split request:
// non-empty title, amount > 0, at least one share, every share amount
// positive, and sum(shares) within Tolerance of the total. Share
// amounts are taken as authoritative; no re-rounding is performed.
func Validate(req Request) error {
	if strings.TrimSpace(req.Title) == "" {
		return ruleError("title", "title is required")
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return ruleError("amount", "amount must be greater than 0")
	}

	if len(req.Shares) == 0 {
		return ruleError("shares", "at least one member must be assigned")
	}

	sum := decimal.Zero
	for _, s := range req.Shares {
		if s.Amount.LessThanOrEqual(decimal.Zero) {
			return ruleError("share_amount", "share amount for user %d must be greater than 0", s.UserID)
		}
		sum = sum.Add(s.Amount)
	}

	if sum.Sub(req.Amount).Abs().GreaterThan(Tolerance) {
		return ruleError("sum", "shares sum to %s but expense amount is %s", sum.StringFixed(2), req.Amount.StringFixed(2))
	}

	return nil
}

// EqualShares divides total evenly among userIDs, each share rounded to
// 2 decimal places. The rounding remainder is intentionally left with
// the total; Validate's tolerance accepts it.
func EqualShares(total decimal.Decimal, userIDs []int) []Share {
	if len(userIDs) == 0 {
		return nil
	}

	each := total.Div(decimal.NewFromInt(int64(len(userIDs)))).Round(2)

	shares := make([]Share, 0, len(userIDs))
	for _, id := range userIDs {
		shares = append(shares, Share{UserID: id, Amount: each})
	}
	return shares
}
