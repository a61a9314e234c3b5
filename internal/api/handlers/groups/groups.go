package groups

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sharetab/internal/api/handlers"
	"sharetab/internal/authz"
	"sharetab/internal/models"
	"sharetab/pkg/utils"
)

// Handler carries the injected database handle for the group routes.
type Handler struct {
	db *sql.DB
}

func New(db *sql.DB) *Handler {
	return &Handler{db: db}
}

// POST /groups/create — creates the group and inserts the creator as
// its ADMIN member in the same transaction, so every group starts with
// exactly one admin.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := handlers.UserID(r)
	if !ok {
		utils.WriteError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	type request struct {
		Name         string `json:"name"`
		BaseCurrency string `json:"base_currency"`
	}

	var req request
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		utils.WriteError(w, "group name is required", http.StatusBadRequest)
		return
	}
	if len(req.Name) > 100 {
		utils.WriteError(w, "group name too long", http.StatusBadRequest)
		return
	}
	if req.BaseCurrency == "" {
		req.BaseCurrency = "USD"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")

	res, err := tx.ExecContext(ctx,
		"INSERT INTO groups (name, base_currency, owner_id, created_at) VALUES (?, ?, ?, ?)",
		req.Name, req.BaseCurrency, userID, now)
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to create group: %v", err)
		utils.WriteError(w, "failed to create group", http.StatusInternalServerError)
		return
	}

	groupID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to get group id: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id, role, status, joined_at) VALUES (?, ?, ?, ?, ?)",
		groupID, userID, models.RoleAdmin, models.StatusAccepted, now)
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to assign group admin: %v", err)
		utils.WriteError(w, "failed to assign group admin", http.StatusInternalServerError)
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
			"group_id":      groupID,
			"name":          req.Name,
			"base_currency": req.BaseCurrency,
			"role":          models.RoleAdmin,
		},
	})
}

// GET /groups/ — groups the caller belongs to (accepted memberships).
func (h *Handler) GetMyGroups(w http.ResponseWriter, r *http.Request) {
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

	rows, err := h.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.base_currency, g.owner_id, g.created_at, m.role
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ? AND m.status = ?`, userID, models.StatusAccepted)
	if err != nil {
		utils.Logger.Errorf("failed to list groups for user %d: %v", userID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	type groupRow struct {
		models.Group
		Role models.Role `json:"role"`
	}

	groupList := make([]groupRow, 0)
	for rows.Next() {
		var g groupRow
		if err := rows.Scan(&g.ID, &g.Name, &g.BaseCurrency, &g.OwnerID, &g.CreatedAt, &g.Role); err != nil {
			utils.Logger.Errorf("error scanning group: %v", err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		groupList = append(groupList, g)
	}
	if err := rows.Err(); err != nil {
		utils.Logger.Errorf("error finalizing group list: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status": "success",
		"count":  len(groupList),
		"data":   groupList,
	})
}

// GET /groups/{id} — the group plus its member roster with display names.
func (h *Handler) GetGroupByID(w http.ResponseWriter, r *http.Request) {
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

	var group models.Group
	err = h.db.QueryRowContext(ctx,
		"SELECT id, name, base_currency, owner_id, created_at FROM groups WHERE id = ?", groupID).
		Scan(&group.ID, &group.Name, &group.BaseCurrency, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	_, member, err := authz.RoleInGroup(ctx, h.db, groupID, userID)
	if err != nil {
		utils.Logger.Errorf("failed to verify group membership: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !member {
		utils.WriteError(w, "you are not a member of this group", http.StatusForbidden)
		return
	}

	type memberDetails struct {
		ID       int                 `json:"id"`
		UserID   int                 `json:"user_id"`
		Role     models.Role         `json:"role"`
		Status   models.MemberStatus `json:"status"`
		JoinedAt string              `json:"joined_at,omitempty"`
		FullName string              `json:"full_name"`
		Username string              `json:"username"`
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.role, m.status, m.joined_at, p.full_name, u.username
		FROM group_members m
		JOIN profiles p ON m.user_id = p.user_id
		JOIN users u ON m.user_id = u.id
		WHERE m.group_id = ?`, groupID)
	if err != nil {
		utils.Logger.Errorf("failed to fetch members for group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	members := make([]memberDetails, 0)
	for rows.Next() {
		var m memberDetails
		var joinedAt sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Status, &joinedAt, &m.FullName, &m.Username); err != nil {
			utils.Logger.Errorf("error scanning group member: %v", err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if joinedAt.Valid {
			m.JoinedAt = joinedAt.String
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		utils.Logger.Errorf("error finalizing member roster: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"group":   group,
		"members": members,
	})
}

// PATCH /groups/update/{id} — rename or change the base currency.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
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

	type request struct {
		Name         string `json:"name"`
		BaseCurrency string `json:"base_currency"`
	}

	var req request
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Name != "" && strings.TrimSpace(req.Name) == "" {
		utils.WriteError(w, "name cannot be whitespace", http.StatusBadRequest)
		return
	}
	if len(req.Name) > 100 {
		utils.WriteError(w, "group name too long", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !h.requireGroupExists(ctx, w, groupID) {
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionUpdateGroup, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can update the group", http.StatusForbidden)
		return
	}

	fields := []string{}
	args := []interface{}{}
	if req.Name != "" {
		fields = append(fields, "name = ?")
		args = append(args, req.Name)
	}
	if req.BaseCurrency != "" {
		fields = append(fields, "base_currency = ?")
		args = append(args, req.BaseCurrency)
	}
	if len(fields) == 0 {
		utils.WriteError(w, "no updates provided", http.StatusBadRequest)
		return
	}
	args = append(args, groupID)

	query := fmt.Sprintf("UPDATE groups SET %s WHERE id = ?", strings.Join(fields, ", "))
	if _, err := h.db.ExecContext(ctx, query, args...); err != nil {
		utils.Logger.Errorf("failed to update group %d: %v", groupID, err)
		utils.WriteError(w, "failed to update group", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "group updated",
	})
}

// DELETE /groups/delete/{id}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
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

	if !h.requireGroupExists(ctx, w, groupID) {
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionDeleteGroup, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can delete the group", http.StatusForbidden)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// Cascade order: assignments -> expenses -> members -> group.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM assigned_expenses WHERE expense_id IN (SELECT id FROM expenses WHERE group_id = ?)", groupID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete group %d assignments: %v", groupID, err)
		utils.WriteError(w, "error deleting group", http.StatusInternalServerError)
		return
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE group_id = ?", groupID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete group %d expenses: %v", groupID, err)
		utils.WriteError(w, "error deleting group", http.StatusInternalServerError)
		return
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", groupID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete group %d members: %v", groupID, err)
		utils.WriteError(w, "error deleting group", http.StatusInternalServerError)
		return
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID); err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to delete group %d: %v", groupID, err)
		utils.WriteError(w, "error deleting group", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(); err != nil {
		utils.Logger.Errorf("failed to commit transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "group and its members deleted",
	})
}

func (h *Handler) requireGroupExists(ctx context.Context, w http.ResponseWriter, groupID int) bool {
	var exists bool
	err := h.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM groups WHERE id = ?)", groupID).Scan(&exists)
	if err != nil {
		utils.Logger.Errorf("failed to check group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	if !exists {
		utils.WriteError(w, "group not found", http.StatusNotFound)
		return false
	}
	return true
}
