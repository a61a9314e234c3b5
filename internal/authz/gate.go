// Package authz decides, per mutating operation, whether the acting
// principal may perform it based on their group-role membership. A
// missing membership row is a plain denial, indistinguishable to the
// caller from an explicit one.
package authz

import (
	"context"
	"database/sql"
	"fmt"

	"sharetab/internal/models"
)

// Action is one gated mutating operation.
type Action string

const (
	ActionCreateExpense    Action = "create_expense"
	ActionEditExpense      Action = "edit_expense"
	ActionDeleteExpense    Action = "delete_expense"
	ActionToggleAssignment Action = "toggle_assignment"
	ActionChangeRole       Action = "change_role"
	ActionRemoveMember     Action = "remove_member"
	ActionAddMember        Action = "add_member"
	ActionUpdateGroup      Action = "update_group"
	ActionDeleteGroup      Action = "delete_group"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Allows is the pure decision table. hasRole is false when the actor
// has no accepted membership in the group; self is true when the actor
// targets their own record (their own assignment), the one exception to
// role gating.
func Allows(action Action, role models.Role, hasRole bool, self bool) bool {
	if action == ActionToggleAssignment && self {
		return true
	}
	if !hasRole {
		return false
	}

	switch action {
	case ActionCreateExpense:
		return true
	case ActionEditExpense, ActionToggleAssignment:
		return role.CanModerate()
	case ActionDeleteExpense, ActionChangeRole, ActionRemoveMember, ActionAddMember,
		ActionUpdateGroup, ActionDeleteGroup:
		return role == models.RoleAdmin
	}
	return false
}

// RoleInGroup looks up the actor's accepted role in a group. The second
// return is false when no accepted membership row exists.
func RoleInGroup(ctx context.Context, db Querier, groupID, userID int) (models.Role, bool, error) {
	var role models.Role
	err := db.QueryRowContext(ctx,
		"SELECT role FROM group_members WHERE group_id = ? AND user_id = ? AND status = ?",
		groupID, userID, models.StatusAccepted).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up role for user %d in group %d: %w", userID, groupID, err)
	}
	return role, true, nil
}

// CanPerform combines the role lookup with the decision table.
func CanPerform(ctx context.Context, db Querier, action Action, groupID, actorID int, self bool) (bool, error) {
	role, hasRole, err := RoleInGroup(ctx, db, groupID, actorID)
	if err != nil {
		return false, err
	}
	return Allows(action, role, hasRole, self), nil
}

// HasOutstandingAssignments reports whether the user still owes any
// unfulfilled share in the group. Members with outstanding shares
// cannot be removed (or leave).
func HasOutstandingAssignments(ctx context.Context, db Querier, groupID, userID int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM assigned_expenses a
		JOIN expenses e ON a.expense_id = e.id
		WHERE e.group_id = ? AND a.user_id = ? AND a.fulfilled = FALSE
	`, groupID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking outstanding assignments for user %d in group %d: %w", userID, groupID, err)
	}
	return count > 0, nil
}
