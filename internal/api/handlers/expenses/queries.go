package expenses

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"sharetab/internal/api/handlers"
	"sharetab/internal/authz"
	"sharetab/pkg/utils"
)

func (h *Handler) requireMembership(ctx context.Context, w http.ResponseWriter, groupID, userID int) bool {
	_, member, err := authz.RoleInGroup(ctx, h.db, groupID, userID)
	if err != nil {
		utils.Logger.Errorf("failed to verify group membership: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	if !member {
		utils.WriteError(w, "you are not a member of this group", http.StatusForbidden)
		return false
	}
	return true
}

// GET /expenses/{id}/group — a group's expenses, newest first.
func (h *Handler) GetGroupExpenses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	groupID, err := handlers.PathID(r, "id")
	if err != nil {
		utils.WriteError(w, "invalid group ID", http.StatusBadRequest)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var exists bool
	err = h.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM groups WHERE id = ?)", groupID).Scan(&exists)
	if err != nil {
		utils.Logger.Errorf("failed to retrieve group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		utils.WriteError(w, "group not found", http.StatusNotFound)
		return
	}

	if !h.requireMembership(ctx, w, groupID, userID) {
		return
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.amount, e.currency, e.occurred_at, e.fulfilled, e.payer_id, p.full_name
		FROM expenses e
		JOIN profiles p ON e.payer_id = p.user_id
		WHERE e.group_id = ?
		ORDER BY e.occurred_at DESC`, groupID)
	if err != nil {
		utils.Logger.Errorf("failed to retrieve expenses for group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type expenseRow struct {
		ID         int             `json:"id"`
		Title      string          `json:"title"`
		Amount     decimal.Decimal `json:"amount"`
		Currency   string          `json:"currency"`
		OccurredAt string          `json:"occurred_at"`
		Fulfilled  bool            `json:"fulfilled"`
		PayerID    int             `json:"payer_id"`
		PayerName  string          `json:"payer_name"`
	}

	expenseList := make([]expenseRow, 0)
	for rows.Next() {
		var e expenseRow
		if err := rows.Scan(&e.ID, &e.Title, &e.Amount, &e.Currency, &e.OccurredAt, &e.Fulfilled, &e.PayerID, &e.PayerName); err != nil {
			utils.Logger.Errorf("error reading expenses: %v", err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		expenseList = append(expenseList, e)
	}
	if err := rows.Err(); err != nil {
		utils.Logger.Errorf("error finalizing expenses read: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":   "success",
		"group_id": groupID,
		"count":    len(expenseList),
		"expenses": expenseList,
	})
}

// GET /expenses/details/{id} — one expense with its assignment rows.
func (h *Handler) GetExpenseByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expenseID, err := handlers.PathID(r, "id")
	if err != nil {
		utils.WriteError(w, "invalid expense ID", http.StatusBadRequest)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type expenseDetails struct {
		ID         int             `json:"id"`
		GroupID    int             `json:"group_id"`
		Title      string          `json:"title"`
		Amount     decimal.Decimal `json:"amount"`
		Currency   string          `json:"currency"`
		OccurredAt string          `json:"occurred_at"`
		Note       sql.NullString  `json:"note,omitempty"`
		Fulfilled  bool            `json:"fulfilled"`
		PayerID    int             `json:"payer_id"`
	}

	var expense expenseDetails
	err = h.db.QueryRowContext(ctx, `
		SELECT id, group_id, title, amount, currency, occurred_at, note, fulfilled, payer_id
		FROM expenses WHERE id = ?`, expenseID).
		Scan(&expense.ID, &expense.GroupID, &expense.Title, &expense.Amount, &expense.Currency,
			&expense.OccurredAt, &expense.Note, &expense.Fulfilled, &expense.PayerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "expense not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to retrieve expense %d: %v", expenseID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if !h.requireMembership(ctx, w, expense.GroupID, userID) {
		return
	}

	type assignmentRow struct {
		ID        int             `json:"id"`
		UserID    int             `json:"user_id"`
		FullName  string          `json:"full_name"`
		Amount    decimal.Decimal `json:"amount"`
		Fulfilled bool            `json:"fulfilled"`
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, p.full_name, a.amount, a.fulfilled
		FROM assigned_expenses a
		JOIN profiles p ON a.user_id = p.user_id
		WHERE a.expense_id = ?`, expenseID)
	if err != nil {
		utils.Logger.Errorf("failed to retrieve assignments for expense %d: %v", expenseID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	assignments := make([]assignmentRow, 0)
	for rows.Next() {
		var a assignmentRow
		if err := rows.Scan(&a.ID, &a.UserID, &a.FullName, &a.Amount, &a.Fulfilled); err != nil {
			utils.Logger.Errorf("error scanning assignment: %v", err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		utils.Logger.Errorf("error finalizing assignments read: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"expense":     expense,
			"assignments": assignments,
		},
	})
}

// GET /expenses/member/balance — what the caller owes and is owed
// across all groups, from unfulfilled assignments only.
func (h *Handler) GetMemberBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type balanceRow struct {
		UserID   int             `json:"user_id"`
		FullName string          `json:"full_name"`
		Total    decimal.Decimal `json:"total"`
	}

	collect := func(query string) ([]balanceRow, error) {
		rows, err := h.db.QueryContext(ctx, query, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make([]balanceRow, 0)
		for rows.Next() {
			var b balanceRow
			if err := rows.Scan(&b.UserID, &b.FullName, &b.Total); err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, rows.Err()
	}

	owes, err := collect(`
		SELECT e.payer_id, p.full_name, SUM(a.amount)
		FROM assigned_expenses a
		JOIN expenses e ON a.expense_id = e.id
		JOIN profiles p ON e.payer_id = p.user_id
		WHERE a.user_id = ? AND a.fulfilled = FALSE AND e.payer_id != a.user_id
		GROUP BY e.payer_id, p.full_name`)
	if err != nil {
		utils.Logger.Errorf("failed to fetch owed summary for user %d: %v", userID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	isOwed, err := collect(`
		SELECT a.user_id, p.full_name, SUM(a.amount)
		FROM assigned_expenses a
		JOIN expenses e ON a.expense_id = e.id
		JOIN profiles p ON a.user_id = p.user_id
		WHERE e.payer_id = ? AND a.fulfilled = FALSE AND a.user_id != e.payer_id
		GROUP BY a.user_id, p.full_name`)
	if err != nil {
		utils.Logger.Errorf("failed to fetch is_owed summary for user %d: %v", userID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"owes":    owes,
			"is_owed": isOwed,
		},
	})
}

// GET /expenses/{id}/balance — per-member outstanding totals for one group.
func (h *Handler) GetGroupBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	groupID, err := handlers.PathID(r, "id")
	if err != nil {
		utils.WriteError(w, "invalid group ID", http.StatusBadRequest)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var groupName string
	err = h.db.QueryRowContext(ctx, "SELECT name FROM groups WHERE id = ?", groupID).Scan(&groupName)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if !h.requireMembership(ctx, w, groupID, userID) {
		return
	}

	type groupBalance struct {
		UserID      int             `json:"user_id"`
		FullName    string          `json:"full_name"`
		Outstanding decimal.Decimal `json:"outstanding"`
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT a.user_id, p.full_name, SUM(a.amount)
		FROM assigned_expenses a
		JOIN expenses e ON a.expense_id = e.id
		JOIN profiles p ON a.user_id = p.user_id
		WHERE e.group_id = ? AND a.fulfilled = FALSE
		GROUP BY a.user_id, p.full_name`, groupID)
	if err != nil {
		utils.Logger.Errorf("failed to fetch balances for group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	balances := make([]groupBalance, 0)
	for rows.Next() {
		var gb groupBalance
		if err := rows.Scan(&gb.UserID, &gb.FullName, &gb.Outstanding); err != nil {
			utils.Logger.Errorf("error scanning group balance: %v", err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		balances = append(balances, gb)
	}
	if err := rows.Err(); err != nil {
		utils.Logger.Errorf("error finalizing balances read: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"group":    map[string]interface{}{"id": groupID, "name": groupName},
			"balances": balances,
		},
	})
}
