package settlement

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "modernc.org/sqlite"
)

func openReconcileDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sharetab-test-*.db")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	tmpFile.Close()

	db, err := sql.Open("sqlite", tmpFile.Name())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpFile.Name())
	})

	schema := `
CREATE TABLE expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	currency TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	note TEXT,
	fulfilled BOOLEAN NOT NULL DEFAULT FALSE,
	payer_id INTEGER NOT NULL,
	created_at TEXT
);
CREATE TABLE assigned_expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	expense_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	amount NUMERIC NOT NULL,
	fulfilled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT
);
`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	return db
}

func TestReconcileAllIsIdempotent(t *testing.T) {
	db := openReconcileDB(t)
	ctx := context.Background()

	// Three drifted expenses and one consistent one:
	//   1: stored false, every assignment settled    -> should flip true
	//   2: stored true, one assignment still open    -> should flip false
	//   3: stored true, no assignment rows at all    -> should flip false
	//   4: stored false, one assignment open         -> already correct
	seed := `
INSERT INTO expenses (id, group_id, title, amount, currency, occurred_at, fulfilled, payer_id) VALUES
	(1, 1, 'Dinner', 40.00, 'USD', '2026-02-01 19:00:00', FALSE, 1),
	(2, 1, 'Cab', 30.00, 'USD', '2026-02-01 20:00:00', TRUE, 1),
	(3, 1, 'Hotel', 90.00, 'USD', '2026-02-02 09:00:00', TRUE, 1),
	(4, 1, 'Fuel', 20.00, 'USD', '2026-02-02 10:00:00', FALSE, 1);
INSERT INTO assigned_expenses (expense_id, user_id, amount, fulfilled) VALUES
	(1, 2, 20.00, TRUE),
	(1, 3, 20.00, TRUE),
	(2, 2, 15.00, TRUE),
	(2, 3, 15.00, FALSE),
	(4, 2, 20.00, FALSE);
`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fixed, err := ReconcileAll(ctx, db)
	if err != nil {
		t.Fatalf("first ReconcileAll: %v", err)
	}
	if fixed != 3 {
		t.Errorf("first run corrected %d expenses, want 3", fixed)
	}

	want := map[int]bool{1: true, 2: false, 3: false, 4: false}
	for id, wantFulfilled := range want {
		var fulfilled bool
		if err := db.QueryRow("SELECT fulfilled FROM expenses WHERE id = ?", id).Scan(&fulfilled); err != nil {
			t.Fatalf("read expense %d: %v", id, err)
		}
		if fulfilled != wantFulfilled {
			t.Errorf("expense %d fulfilled = %v, want %v", id, fulfilled, wantFulfilled)
		}
	}

	// With no intervening mutation the sweep must find nothing.
	fixed, err = ReconcileAll(ctx, db)
	if err != nil {
		t.Fatalf("second ReconcileAll: %v", err)
	}
	if fixed != 0 {
		t.Errorf("second run corrected %d expenses, want 0", fixed)
	}
}
