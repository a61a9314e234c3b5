package groups

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"sharetab/internal/api/handlers"
	"sharetab/internal/authz"
	"sharetab/internal/models"
	"sharetab/pkg/utils"
)

// POST /groups/member/{id}/add — admin adds users to the group as
// INVITED. Existing members and already-invited users are skipped, not
// errors, so a partially-stale client list still succeeds.
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
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
		UserIDs []int `json:"user_ids"`
	}

	var req request
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if len(req.UserIDs) == 0 {
		utils.WriteError(w, "no users provided", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if !h.requireGroupExists(ctx, w, groupID) {
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionAddMember, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can add members", http.StatusForbidden)
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		utils.Logger.Errorf("failed to start transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO group_members (group_id, user_id, role, status, invited_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		utils.Logger.Errorf("failed to prepare insert statement: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer stmt.Close()

	now := time.Now().Format("2006-01-02 15:04:05")
	added := 0
	skipped := make([]map[string]interface{}, 0)

	for _, targetID := range req.UserIDs {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", targetID).Scan(&exists)
		if err != nil {
			tx.Rollback()
			utils.Logger.Errorf("failed to check user %d: %v", targetID, err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			skipped = append(skipped, map[string]interface{}{"user_id": targetID, "reason": "user does not exist"})
			continue
		}

		err = tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)", groupID, targetID).Scan(&exists)
		if err != nil {
			tx.Rollback()
			utils.Logger.Errorf("failed to check membership for user %d: %v", targetID, err)
			utils.WriteError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if exists {
			skipped = append(skipped, map[string]interface{}{"user_id": targetID, "reason": "already a member or invited"})
			continue
		}

		if _, err := stmt.ExecContext(ctx, groupID, targetID, models.RoleMember, models.StatusInvited, now); err != nil {
			tx.Rollback()
			utils.Logger.Errorf("failed to invite user %d to group %d: %v", targetID, groupID, err)
			utils.WriteError(w, "failed to add members", http.StatusInternalServerError)
			return
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		utils.Logger.Errorf("failed to commit transaction: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"added":   added,
		"skipped": skipped,
	})
}

// PATCH /groups/member/{id}/accept — the invited user accepts their own
// membership: INVITED -> ACCEPTED, one-way.
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var status models.MemberStatus
	err = h.db.QueryRowContext(ctx,
		"SELECT status FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "no invitation found for this group", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch membership: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if status == models.StatusAccepted {
		utils.WriteError(w, "invitation already accepted", http.StatusBadRequest)
		return
	}

	_, err = h.db.ExecContext(ctx,
		"UPDATE group_members SET status = ?, joined_at = ? WHERE group_id = ? AND user_id = ?",
		models.StatusAccepted, time.Now().Format("2006-01-02 15:04:05"), groupID, userID)
	if err != nil {
		utils.Logger.Errorf("failed to accept invite for user %d in group %d: %v", userID, groupID, err)
		utils.WriteError(w, "failed to accept invite", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "invite accepted",
	})
}

// PATCH /groups/member/{id}/role — admin changes a member's role.
// ADMIN is not assignable through this path.
func (h *Handler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
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
		UserID int         `json:"user_id"`
		Role   models.Role `json:"role"`
	}

	var req request
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !req.Role.Valid() || req.Role == models.RoleAdmin {
		utils.WriteError(w, "role must be MODERATOR or MEMBER", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var ownerID int
	err = h.db.QueryRowContext(ctx, "SELECT owner_id FROM groups WHERE id = ?", groupID).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionChangeRole, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can change member roles", http.StatusForbidden)
		return
	}

	// Demoting the owner would leave the group without a member who can
	// administer or delete it, since the owner can never leave.
	if req.UserID == ownerID {
		utils.WriteError(w, "the group owner's role cannot be changed", http.StatusBadRequest)
		return
	}

	res, err := h.db.ExecContext(ctx,
		"UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?",
		req.Role, groupID, req.UserID)
	if err != nil {
		utils.Logger.Errorf("failed to change role for user %d in group %d: %v", req.UserID, groupID, err)
		utils.WriteError(w, "failed to change role", http.StatusInternalServerError)
		return
	}

	rowsAffected, _ := res.RowsAffected()
	if rowsAffected == 0 {
		utils.WriteError(w, "user is not a member of this group", http.StatusNotFound)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "member role updated",
		"data": map[string]interface{}{
			"user_id": req.UserID,
			"role":    req.Role,
		},
	})
}

// PATCH /groups/member/{id}/remove — admin removes a member. Blocked
// with 400 while the member has any unfulfilled assignment in the
// group, so outstanding shares are never orphaned.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
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
		UserID int `json:"user_id"`
	}

	var req request
	if err := handlers.DecodeStrict(r, &req); err != nil {
		utils.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var ownerID int
	err = h.db.QueryRowContext(ctx, "SELECT owner_id FROM groups WHERE id = ?", groupID).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	allowed, err := authz.CanPerform(ctx, h.db, authz.ActionRemoveMember, groupID, userID, false)
	if err != nil {
		utils.Logger.Errorf("authorization check failed: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		utils.WriteError(w, "only a group admin can remove members", http.StatusForbidden)
		return
	}

	if req.UserID == ownerID {
		utils.WriteError(w, "the group owner cannot be removed", http.StatusBadRequest)
		return
	}

	var exists bool
	err = h.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)", groupID, req.UserID).Scan(&exists)
	if err != nil {
		utils.Logger.Errorf("failed to check membership: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		utils.WriteError(w, "user is not a member of this group", http.StatusNotFound)
		return
	}

	outstanding, err := authz.HasOutstandingAssignments(ctx, h.db, groupID, req.UserID)
	if err != nil {
		utils.Logger.Errorf("failed to check outstanding assignments: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if outstanding {
		utils.WriteError(w, "member has outstanding expense assignments in this group", http.StatusBadRequest)
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, req.UserID); err != nil {
		utils.Logger.Errorf("failed to remove member %d from group %d: %v", req.UserID, groupID, err)
		utils.WriteError(w, "failed to remove member", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "member removed",
	})
}

// PATCH /groups/member/{id}/leave — self removal, same outstanding
// guard as removal. The owner must delete the group instead.
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var ownerID int
	err = h.db.QueryRowContext(ctx, "SELECT owner_id FROM groups WHERE id = ?", groupID).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.WriteError(w, "group not found", http.StatusNotFound)
			return
		}
		utils.Logger.Errorf("failed to fetch group %d: %v", groupID, err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var exists bool
	err = h.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)", groupID, userID).Scan(&exists)
	if err != nil {
		utils.Logger.Errorf("failed to check membership: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		utils.WriteError(w, "you are not a member of this group", http.StatusNotFound)
		return
	}

	if userID == ownerID {
		utils.WriteError(w, "the group owner cannot leave. Delete the group instead.", http.StatusBadRequest)
		return
	}

	outstanding, err := authz.HasOutstandingAssignments(ctx, h.db, groupID, userID)
	if err != nil {
		utils.Logger.Errorf("failed to check outstanding assignments: %v", err)
		utils.WriteError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if outstanding {
		utils.WriteError(w, "you have outstanding expense assignments in this group", http.StatusBadRequest)
		return
	}

	if _, err := h.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID); err != nil {
		utils.Logger.Errorf("failed to leave group %d: %v", groupID, err)
		utils.WriteError(w, "failed to leave group", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "you have left the group",
	})
}
