package expenses

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sharetab/internal/api/handlers"
	"sharetab/internal/authz"
	"sharetab/internal/models"
	"sharetab/internal/settlement"
	"sharetab/pkg/utils"
)

// POST /expenses/assignments/{id}/toggle — flips one assignment's
// fulfilled flag. Allowed for the assignment's own user regardless of
// role, or for a group admin/moderator. The parent expense's aggregate
// flag is re-derived from all assignment rows in the same transaction,
// so toggling one share can flip the expense in either direction.
func (h *Handler) ToggleAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assignmentID, err := handlers.PathID(r, "id")
	if err != nil {
		utils.WriteError(w, "invalid assignment ID", http.StatusBadRequest)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var assignment models.AssignedExpense
	var groupID int
	err = h.db.QueryRowContext(ctx, `
		SELECT a.id, a.expense_id, a.user_id, a.amount, a.fulfilled, e.group_id
		FROM assigned_expenses a
		JOIN expenses e ON a.expense_id = e.id
		WHERE a.id = ?`, assignmentID).
		Scan(&assignment.ID, &assignment.ExpenseID, &assignment.UserID, &assignment.Amount, &assignment.Fulfilled, &groupID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "assignment not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to retrieve assignment %d: %v", assignmentID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	self := assignment.UserID == userID
	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionToggleAssignment, groupID, userID, self)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "this assignment does not belong to you", http.StatusForbidden)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	assignment.Fulfilled = !assignment.Fulfilled
	if _, err := tx.ExecContext(ctx, "UPDATE assigned_expenses SET fulfilled = ? WHERE id = ?", assignment.Fulfilled, assignment.ID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to toggle assignment %d: %v", assignment.ID, err)
		utils.WriteError(w, "failed to update assignment", http.StatusInternalServerError)
		return
	}

	expenseFulfilled, err := settlement.Apply(ctx, tx, assignment.ExpenseID)
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to recompute expense %d: %v", assignment.ExpenseID, err)
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
			"assignment":        assignment,
			"expense_fulfilled": expenseFulfilled,
		},
	})
}
