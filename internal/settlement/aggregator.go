// Package settlement derives an expense's fulfilled flag from its
// assignment rows. The flag is a cached column on expenses; this
// package is its only writer.
package settlement

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the slice of database/sql shared by *sql.DB and *sql.Tx.
// Recompute runs inside the caller's transaction so the persisted flag
// always reflects the same snapshot as the triggering write.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Recompute reads every assignment row of the expense and reports
// whether the expense is fulfilled: true only when at least one
// assignment exists and all of them are fulfilled. An expense with no
// assignments is never fulfilled.
func Recompute(ctx context.Context, db DBTX, expenseID int) (bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT fulfilled FROM assigned_expenses WHERE expense_id = ?", expenseID)
	if err != nil {
		return false, fmt.Errorf("loading assignments for expense %d: %w", expenseID, err)
	}
	defer rows.Close()

	count := 0
	all := true
	for rows.Next() {
		var fulfilled bool
		if err := rows.Scan(&fulfilled); err != nil {
			return false, fmt.Errorf("scanning assignment for expense %d: %w", expenseID, err)
		}
		count++
		if !fulfilled {
			all = false
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("reading assignments for expense %d: %w", expenseID, err)
	}

	return count > 0 && all, nil
}

// Apply recomputes the expense's fulfilled flag and persists it onto
// the expenses row, returning the derived value. Callers must invoke it
// after every assignment mutation, inside the same transaction.
func Apply(ctx context.Context, db DBTX, expenseID int) (bool, error) {
	fulfilled, err := Recompute(ctx, db, expenseID)
	if err != nil {
		return false, err
	}

	if _, err := db.ExecContext(ctx, "UPDATE expenses SET fulfilled = ? WHERE id = ?", fulfilled, expenseID); err != nil {
		return false, fmt.Errorf("persisting fulfilled flag for expense %d: %w", expenseID, err)
	}

	return fulfilled, nil
}

// ReconcileAll re-derives the fulfilled flag for every expense whose
// stored value drifted from its assignment rows (assignments can be
// mutated through paths that skip Apply). Returns the number of rows
// corrected. Idempotent: a second run with no intervening mutation
// updates nothing.
func ReconcileAll(ctx context.Context, db DBTX) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.id, e.fulfilled
		FROM expenses e
		WHERE e.fulfilled != (
			SELECT COUNT(*) > 0 AND COUNT(*) = SUM(a.fulfilled)
			FROM assigned_expenses a
			WHERE a.expense_id = e.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("finding drifted expenses: %w", err)
	}

	var drifted []int
	for rows.Next() {
		var id int
		var stored bool
		if err := rows.Scan(&id, &stored); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning drifted expense: %w", err)
		}
		drifted = append(drifted, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("reading drifted expenses: %w", err)
	}
	rows.Close()

	for _, id := range drifted {
		if _, err := Apply(ctx, db, id); err != nil {
			return 0, err
		}
	}

	return len(drifted), nil
}
