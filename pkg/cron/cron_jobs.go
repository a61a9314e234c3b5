package cron

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"sharetab/internal/settlement"
	"sharetab/pkg/utils"

	"github.com/robfig/cron/v3"
)

func StartCronJob(db *sql.DB) *cron.Cron {
	c := cron.New()

	// Runs every 6 hours — reconcile expense fulfilled flags
	_, err := c.AddFunc("0 */6 * * *", func() {
		if err := ReconcileExpenseFlags(db); err != nil {
			utils.Logger.Errorf("Cron job failed to reconcile expense flags: %v", err)
		}
	})
	if err != nil {
		utils.Logger.Errorf("Failed to schedule settlement reconcile job: %v", err)
	}

	// Runs daily at midnight — purge stale pending invites
	_, err = c.AddFunc("0 0 * * *", func() {
		if err := PurgeStaleInvites(db); err != nil {
			utils.Logger.Errorf("Cron job failed to purge stale invites: %v", err)
		}
	})
	if err != nil {
		utils.Logger.Errorf("Failed to schedule invite purge job: %v", err)
	}

	c.Start()
	utils.Logger.Info("Cron jobs started (settlement reconcile every 6h, invite purge daily at midnight)")
	return c
}

// ReconcileExpenseFlags sweeps for expenses whose stored fulfilled flag
// has drifted from their assignments and rewrites them. Handlers keep
// the flag current transactionally; this is the safety net for rows
// touched outside the API.
func ReconcileExpenseFlags(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fixed, err := settlement.ReconcileAll(ctx, db)
	if err != nil {
		return err
	}

	if fixed > 0 {
		utils.Logger.Infof("Reconciled fulfilled flag on %d expenses", fixed)
	}
	return nil
}

// PurgeStaleInvites deletes INVITED memberships older than
// INVITE_EXP_DAYS (default 30).
func PurgeStaleInvites(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	days, err := strconv.Atoi(os.Getenv("INVITE_EXP_DAYS"))
	if err != nil || days <= 0 {
		days = 30
	}

	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02 15:04:05")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM group_members
		WHERE status = 'INVITED' AND invited_at < ?
	`, cutoff)
	if err != nil {
		tx.Rollback()
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if rowsAffected > 0 {
		utils.Logger.Infof("Purged %d stale pending invites", rowsAffected)
	}
	return nil
}
