package expenses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sharetab/internal/api/handlers"
	"sharetab/internal/authz"
	"sharetab/internal/models"
	"sharetab/internal/settlement"
	"sharetab/internal/split"
	"sharetab/pkg/utils"
)

// timestampLayout is the storage format for occurred_at and created_at.
const timestampLayout = "2006-01-02 15:04:05"

// Handler carries the injected database handle for the expense routes.
type Handler struct {
	db *sql.DB
}

func New(db *sql.DB) *Handler {
	return &Handler{db: db}
}

type shareRequest struct {
	UserID int             `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type expenseRequest struct {
	GroupID    int             `json:"group_id,omitempty"`
	Title      string          `json:"title"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	OccurredAt string          `json:"occurred_at,omitempty"`
	Note       string          `json:"note,omitempty"`
	PayerID    int             `json:"payer_id,omitempty"`
	Split      string          `json:"split,omitempty"`
	Assigned   []shareRequest  `json:"assigned"`
}

// shares builds the split from the request: explicit per-member amounts
// by default, server-computed equal shares when split == "equal".
func (req *expenseRequest) shares() []split.Share {
	if req.Split == "equal" {
		userIDs := make([]int, 0, len(req.Assigned))
		for _, a := range req.Assigned {
			userIDs = append(userIDs, a.UserID)
		}
		return split.EqualShares(req.Amount, userIDs)
	}

	shares := make([]split.Share, 0, len(req.Assigned))
	for _, a := range req.Assigned {
		shares = append(shares, split.Share{UserID: a.UserID, Amount: a.Amount})
	}
	return shares
}

// assigneesAreMembers verifies every share belongs to an accepted member
// of the group.
func assigneesAreMembers(ctx context.Context, db settlement.DBTX, groupID int, shares []split.Share) (bool, error) {
	seen := make(map[int]bool, len(shares))
	ids := make([]interface{}, 0, len(shares)+1)
	ids = append(ids, groupID)
	for _, s := range shares {
		if seen[s.UserID] {
			return false, nil
		}
		seen[s.UserID] = true
		ids = append(ids, s.UserID)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(shares)), ",")
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND status = 'ACCEPTED' AND user_id IN (%s)",
		placeholders)

	var count int
	if err := db.QueryRowContext(ctx, query, ids...).Scan(&count); err != nil {
		return false, err
	}
	return count == len(shares), nil
}

// POST /expenses/create
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req expenseRequest
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var group models.Group
	err := h.db.QueryRowContext(ctx, "SELECT id, name, base_currency, owner_id FROM groups WHERE id = ?", req.GroupID).
		Scan(&group.ID, &group.Name, &group.BaseCurrency, &group.OwnerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to retrieve group %d: %v", req.GroupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionCreateExpense, group.ID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "you are not a member of this group", http.StatusForbidden)
		return
	}

	if req.PayerID == 0 {
		req.PayerID = userID
	}
	if req.Currency == "" {
		req.Currency = group.BaseCurrency
	}
	if req.OccurredAt == "" {
		req.OccurredAt = time.Now().Format(timestampLayout)
	} else if _, err := time.Parse(timestampLayout, req.OccurredAt); err != nil {
		utils.WriteError(w, "occurred_at must be formatted as "+timestampLayout, http.StatusBadRequest)
		return
	}

	shares := req.shares()
	if err := split.Validate(split.Request{Title: req.Title, Amount: req.Amount, Shares: shares}); err != nil {
		var verr *split.ValidationError
		if errors.As(err, &verr) {
			utils.WriteError(w, verr.Message, http.StatusBadRequest)
			return
		}
		utils.WriteError(w, "invalid expense", http.StatusBadRequest)
		return
	}

	member, err := assigneesAreMembers(ctx, h.db, group.ID, shares)
	if err != nil {
		utils.Logger.Errorf("failed to verify assignees for group %d: %v", group.ID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !member {
		utils.WriteError(w, "every assignee must be a distinct accepted group member", http.StatusBadRequest)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (group_id, title, amount, currency, occurred_at, note, fulfilled, payer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
		group.ID, req.Title, req.Amount, req.Currency, req.OccurredAt,
		sql.NullString{String: req.Note, Valid: req.Note != ""},
		req.PayerID, time.Now().Format(timestampLayout))
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to create expense: %v", err)
		utils.WriteError(w, "failed to create expense", http.StatusInternalServerError)
		return
	}

	expenseID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to get expense id: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := insertAssignments(ctx, tx, int(expenseID), shares); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to insert assignments for expense %d: %v", expenseID, err)
		utils.WriteError(w, "failed to split expense", http.StatusInternalServerError)
		return
	}

	fulfilled, err := settlement.Apply(ctx, tx, int(expenseID))
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to recompute expense %d: %v", expenseID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		utils.Logger.Errorf("failed to commit transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSONStatus(w, http.StatusCreated, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"expense_id": expenseID,
			"amount":     req.Amount,
			"currency":   req.Currency,
			"fulfilled":  fulfilled,
			"assigned":   shares,
		},
	})
}

func insertAssignments(ctx context.Context, tx *sql.Tx, expenseID int, shares []split.Share) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assigned_expenses (expense_id, user_id, amount, fulfilled, created_at)
		VALUES (?, ?, ?, FALSE, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Format(timestampLayout)
	for _, s := range shares {
		if _, err := stmt.ExecContext(ctx, expenseID, s.UserID, s.Amount, now); err != nil {
			return err
		}
	}
	return nil
}

// PATCH /expenses/{id}/update — full replace: prior assignments are
// deleted and the submitted set reinserted, then the fulfilled flag is
// re-derived, all in one transaction.
func (h *Handler) ReplaceExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
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

	var req expenseRequest
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var expense models.Expense
	err = h.db.QueryRowContext(ctx, "SELECT id, group_id, currency, occurred_at, payer_id FROM expenses WHERE id = ?", expenseID).
		Scan(&expense.ID, &expense.GroupID, &expense.Currency, &expense.OccurredAt, &expense.PayerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "expense not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to retrieve expense %d: %v", expenseID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionEditExpense, expense.GroupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only an admin or moderator can edit this expense", http.StatusForbidden)
		return
	}

	if req.PayerID == 0 {
		req.PayerID = expense.PayerID
	}
	if req.Currency == "" {
		req.Currency = expense.Currency
	}
	if req.OccurredAt == "" {
		req.OccurredAt = expense.OccurredAt
	} else if _, err := time.Parse(timestampLayout, req.OccurredAt); err != nil {
		utils.WriteError(w, "occurred_at must be formatted as "+timestampLayout, http.StatusBadRequest)
		return
	}

	shares := req.shares()
	if err := split.Validate(split.Request{Title: req.Title, Amount: req.Amount, Shares: shares}); err != nil {
		var verr *split.ValidationError
		if errors.As(err, &verr) {
			utils.WriteError(w, verr.Message, http.StatusBadRequest)
			return
		}
		utils.WriteError(w, "invalid expense", http.StatusBadRequest)
		return
	}

	member, err := assigneesAreMembers(ctx, h.db, expense.GroupID, shares)
	if err != nil {
		utils.Logger.Errorf("failed to verify assignees for group %d: %v", expense.GroupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !member {
		utils.WriteError(w, "every assignee must be a distinct accepted group member", http.StatusBadRequest)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE expenses SET title = ?, amount = ?, currency = ?, occurred_at = ?, note = ?, payer_id = ? WHERE id = ?`,
		req.Title, req.Amount, req.Currency, req.OccurredAt,
		sql.NullString{String: req.Note, Valid: req.Note != ""},
		req.PayerID, expense.ID)
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to update expense %d: %v", expense.ID, err)
		utils.WriteError(w, "failed to update expense", http.StatusInternalServerError)
		return
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM assigned_expenses WHERE expense_id = ?", expense.ID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to reset assignments for expense %d: %v", expense.ID, err)
		utils.WriteError(w, "failed to reset assignments", http.StatusInternalServerError)
		return
	}

	if err := insertAssignments(ctx, tx, expense.ID, shares); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to recreate assignments for expense %d: %v", expense.ID, err)
		utils.WriteError(w, "failed to recreate assignments", http.StatusInternalServerError)
		return
	}

	fulfilled, err := settlement.Apply(ctx, tx, expense.ID)
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to recompute expense %d: %v", expense.ID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		utils.Logger.Errorf("failed to commit transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"expense_id": expense.ID,
			"amount":     req.Amount,
			"fulfilled":  fulfilled,
			"assigned":   shares,
		},
	})
}

// DELETE /expenses/delete/{id}
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
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

	var groupID int
	err = h.db.QueryRowContext(ctx, "SELECT group_id FROM expenses WHERE id = ?", expenseID).Scan(&groupID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "expense not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to retrieve expense %d: %v", expenseID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionDeleteExpense, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can delete this expense", http.StatusForbidden)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM assigned_expenses WHERE expense_id = ?", expenseID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete assignments for expense %d: %v", expenseID, err)
		utils.WriteError(w, "error deleting expense", http.StatusInternalServerError)
		return
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete expense %d: %v", expenseID, err)
		utils.WriteError(w, "error deleting expense", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		utils.Logger.Errorf("failed to commit transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "expense and its assignments deleted",
	})
}
