package settlement

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func assignmentRows(flags ...bool) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"fulfilled"})
	for _, f := range flags {
		rows.AddRow(f)
	}
	return rows
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name  string
		flags []bool
		want  bool
	}{
		{name: "no assignments is never fulfilled", flags: nil, want: false},
		{name: "single fulfilled", flags: []bool{true}, want: true},
		{name: "single unfulfilled", flags: []bool{false}, want: false},
		{name: "all fulfilled", flags: []bool{true, true, true}, want: true},
		{name: "one outstanding", flags: []bool{true, false, true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock new: %v", err)
			}
			defer db.Close()

			mock.ExpectQuery("SELECT fulfilled FROM assigned_expenses").
				WithArgs(42).
				WillReturnRows(assignmentRows(tt.flags...))

			got, err := Recompute(context.Background(), db, 42)
			if err != nil {
				t.Fatalf("Recompute: %v", err)
			}
			if got != tt.want {
				t.Errorf("Recompute() = %v, want %v", got, tt.want)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	// Same authoritative rows read twice with no mutation in between.
	mock.ExpectQuery("SELECT fulfilled FROM assigned_expenses").
		WithArgs(7).
		WillReturnRows(assignmentRows(true, true))
	mock.ExpectQuery("SELECT fulfilled FROM assigned_expenses").
		WithArgs(7).
		WillReturnRows(assignmentRows(true, true))

	first, err := Recompute(context.Background(), db, 7)
	if err != nil {
		t.Fatalf("first Recompute: %v", err)
	}
	second, err := Recompute(context.Background(), db, 7)
	if err != nil {
		t.Fatalf("second Recompute: %v", err)
	}

	if first != second {
		t.Errorf("Recompute not idempotent: first = %v, second = %v", first, second)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyPersistsDerivedFlag(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT fulfilled FROM assigned_expenses").
		WithArgs(9).
		WillReturnRows(assignmentRows(true, false))
	mock.ExpectExec("UPDATE expenses SET fulfilled").
		WithArgs(false, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	fulfilled, err := Apply(context.Background(), db, 9)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if fulfilled {
		t.Error("Apply() = true, want false with an outstanding assignment")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReconcileAllFixesDrift(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT e.id, e.fulfilled").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fulfilled"}).AddRow(3, false))
	mock.ExpectQuery("SELECT fulfilled FROM assigned_expenses").
		WithArgs(3).
		WillReturnRows(assignmentRows(true, true))
	mock.ExpectExec("UPDATE expenses SET fulfilled").
		WithArgs(true, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := ReconcileAll(context.Background(), db)
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if n != 1 {
		t.Errorf("ReconcileAll() corrected %d rows, want 1", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
