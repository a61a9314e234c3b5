package expenses

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"sharetab/pkg/utils"
)

const testSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	created_at TEXT
);
CREATE TABLE profiles (
	user_id INTEGER PRIMARY KEY,
	full_name TEXT NOT NULL,
	phone TEXT,
	avatar_url TEXT
);
CREATE TABLE groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	base_currency TEXT NOT NULL DEFAULT 'USD',
	owner_id INTEGER NOT NULL,
	created_at TEXT
);
CREATE TABLE group_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL,
	invited_at TEXT,
	joined_at TEXT,
	UNIQUE (group_id, user_id)
);
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

// setupTestDB creates a temp sqlite database seeded with one group:
// user 1 is the admin owner, user 2 a moderator, user 3 a member, all
// accepted. User 4 exists but belongs to no group.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sharetab-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	db, err := sql.Open("sqlite", tmpFile.Name())
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpFile.Name())
	})

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	seed := `
INSERT INTO users (id, email, username, password) VALUES
	(1, 'alice@example.com', 'alice', 'x'),
	(2, 'bob@example.com', 'bob', 'x'),
	(3, 'carol@example.com', 'carol', 'x'),
	(4, 'dave@example.com', 'dave', 'x');
INSERT INTO profiles (user_id, full_name) VALUES
	(1, 'Alice A'), (2, 'Bob B'), (3, 'Carol C'), (4, 'Dave D');
INSERT INTO groups (id, name, base_currency, owner_id) VALUES (1, 'Trip', 'USD', 1);
INSERT INTO group_members (group_id, user_id, role, status, joined_at) VALUES
	(1, 1, 'ADMIN', 'ACCEPTED', '2026-01-01 00:00:00'),
	(1, 2, 'MODERATOR', 'ACCEPTED', '2026-01-01 00:00:00'),
	(1, 3, 'MEMBER', 'ACCEPTED', '2026-01-01 00:00:00');
`
	_, err = db.Exec(seed)
	require.NoError(t, err)

	return db
}

// doRequest invokes a handler directly with the authenticated user id
// on the context, the way the JWT middleware would place it.
func doRequest(t *testing.T, handler http.HandlerFunc, method, target string, userID int, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(context.WithValue(req.Context(), utils.UserIDKey, float64(userID)))
	for name, value := range pathValues {
		req.SetPathValue(name, value)
	}

	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func createExpense(t *testing.T, h *Handler, userID int, body string) (int, bool) {
	t.Helper()
	rr := doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", userID, body, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	return int(data["expense_id"].(float64)), data["fulfilled"].(bool)
}

func assignmentID(t *testing.T, db *sql.DB, expenseID, userID int) int {
	t.Helper()
	var id int
	err := db.QueryRow(
		"SELECT id FROM assigned_expenses WHERE expense_id = ? AND user_id = ?", expenseID, userID).Scan(&id)
	require.NoError(t, err)
	return id
}

func expenseFulfilled(t *testing.T, db *sql.DB, expenseID int) bool {
	t.Helper()
	var fulfilled bool
	err := db.QueryRow("SELECT fulfilled FROM expenses WHERE id = ?", expenseID).Scan(&fulfilled)
	require.NoError(t, err)
	return fulfilled
}

func TestExpenseSettlementLifecycle(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	expenseID, fulfilled := createExpense(t, h, 1, `{
		"group_id": 1,
		"title": "Dinner",
		"amount": "100.00",
		"assigned": [
			{"user_id": 2, "amount": "50.00"},
			{"user_id": 3, "amount": "50.00"}
		]
	}`)
	require.False(t, fulfilled, "a fresh expense must start unfulfilled")
	require.False(t, expenseFulfilled(t, db, expenseID))

	bobAssignment := assignmentID(t, db, expenseID, 2)
	carolAssignment := assignmentID(t, db, expenseID, 3)

	// Bob settles his share, Carol's is still open.
	rr := doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 2, "", map[string]string{"id": strconv.Itoa(bobAssignment)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	require.False(t, data["expense_fulfilled"].(bool))
	require.False(t, expenseFulfilled(t, db, expenseID))

	// Carol settles hers, the expense flips to fulfilled.
	rr = doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 3, "", map[string]string{"id": strconv.Itoa(carolAssignment)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data = decodeBody(t, rr)["data"].(map[string]interface{})
	require.True(t, data["expense_fulfilled"].(bool))
	require.True(t, expenseFulfilled(t, db, expenseID))

	// Bob toggles back, the expense must follow in the same request.
	rr = doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 2, "", map[string]string{"id": strconv.Itoa(bobAssignment)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data = decodeBody(t, rr)["data"].(map[string]interface{})
	require.False(t, data["expense_fulfilled"].(bool))
	require.False(t, expenseFulfilled(t, db, expenseID))
}

func TestCreateExpenseShareSumTolerance(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	// 0.05 off is within tolerance.
	rr := doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 1, `{
		"group_id": 1,
		"title": "Groceries",
		"amount": "100.00",
		"assigned": [
			{"user_id": 2, "amount": "50.00"},
			{"user_id": 3, "amount": "49.95"}
		]
	}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// 0.06 off is not.
	rr = doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 1, `{
		"group_id": 1,
		"title": "Groceries",
		"amount": "100.00",
		"assigned": [
			{"user_id": 2, "amount": "50.00"},
			{"user_id": 3, "amount": "49.94"}
		]
	}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, decodeBody(t, rr), "error")
}

func TestCreateExpenseValidation(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	// Eve is invited but has not accepted yet, so she cannot carry a share.
	_, err := db.Exec(`
		INSERT INTO users (id, email, username, password) VALUES (5, 'eve@example.com', 'eve', 'x');
		INSERT INTO profiles (user_id, full_name) VALUES (5, 'Eve E');
		INSERT INTO group_members (group_id, user_id, role, status, invited_at)
		VALUES (1, 5, 'MEMBER', 'INVITED', '2026-01-01 00:00:00');
	`)
	require.NoError(t, err)

	cases := []struct {
		name string
		body string
	}{
		{"empty title", `{"group_id": 1, "title": "  ", "amount": "10.00", "assigned": [{"user_id": 2, "amount": "10.00"}]}`},
		{"zero amount", `{"group_id": 1, "title": "Coffee", "amount": "0", "assigned": [{"user_id": 2, "amount": "0"}]}`},
		{"no shares", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "assigned": []}`},
		{"non-positive share", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "assigned": [{"user_id": 2, "amount": "10.00"}, {"user_id": 3, "amount": "0"}]}`},
		{"duplicate assignee", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "assigned": [{"user_id": 2, "amount": "5.00"}, {"user_id": 2, "amount": "5.00"}]}`},
		{"assignee not a member", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "assigned": [{"user_id": 4, "amount": "10.00"}]}`},
		{"assignee only invited", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "assigned": [{"user_id": 5, "amount": "10.00"}]}`},
		{"malformed occurred_at", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "occurred_at": "yesterday", "assigned": [{"user_id": 2, "amount": "10.00"}]}`},
		{"client cannot set fulfilled", `{"group_id": 1, "title": "Coffee", "amount": "10.00", "fulfilled": true, "assigned": [{"user_id": 2, "amount": "10.00"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 1, tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			require.Contains(t, decodeBody(t, rr), "error")
		})
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM expenses").Scan(&count))
	require.Zero(t, count, "rejected requests must not create rows")
}

func TestCreateExpenseEqualSplit(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	expenseID, _ := createExpense(t, h, 2, `{
		"group_id": 1,
		"title": "Cab",
		"amount": "99.99",
		"split": "equal",
		"assigned": [
			{"user_id": 1},
			{"user_id": 2},
			{"user_id": 3}
		]
	}`)

	rows, err := db.Query("SELECT amount FROM assigned_expenses WHERE expense_id = ? ORDER BY user_id", expenseID)
	require.NoError(t, err)
	defer rows.Close()

	var amounts []string
	for rows.Next() {
		var amount string
		require.NoError(t, rows.Scan(&amount))
		amounts = append(amounts, amount)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"33.33", "33.33", "33.33"}, amounts)
}

func TestCreateExpenseAuthorization(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	body := `{"group_id": 1, "title": "Snacks", "amount": "10.00", "assigned": [{"user_id": 2, "amount": "10.00"}]}`

	// Non-member gets a plain denial.
	rr := doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 4, body, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// A plain member may create expenses.
	rr = doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 3, body, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// Unknown group is a 404.
	rr = doRequest(t, h.CreateExpense, http.MethodPost, "/expenses/create", 1,
		`{"group_id": 99, "title": "Snacks", "amount": "10.00", "assigned": [{"user_id": 2, "amount": "10.00"}]}`, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestToggleAssignmentAuthorization(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	expenseID, _ := createExpense(t, h, 1, `{
		"group_id": 1,
		"title": "Rent",
		"amount": "60.00",
		"assigned": [
			{"user_id": 2, "amount": "30.00"},
			{"user_id": 3, "amount": "30.00"}
		]
	}`)

	bobAssignment := assignmentID(t, db, expenseID, 2)
	target := map[string]string{"id": strconv.Itoa(bobAssignment)}

	// Carol is a plain member and cannot toggle Bob's share.
	rr := doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 3, "", target)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var fulfilled bool
	require.NoError(t, db.QueryRow("SELECT fulfilled FROM assigned_expenses WHERE id = ?", bobAssignment).Scan(&fulfilled))
	require.False(t, fulfilled, "a denied toggle must leave the assignment unchanged")

	// The admin can toggle anyone's share.
	rr = doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 1, "", target)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// A non-member gets the same plain denial.
	rr = doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 4, "", target)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Missing assignment is a 404.
	rr = doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", 1, "", map[string]string{"id": "9999"})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReplaceExpenseRecomputesSettlement(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	expenseID, _ := createExpense(t, h, 1, `{
		"group_id": 1,
		"title": "Hotel",
		"amount": "80.00",
		"assigned": [
			{"user_id": 2, "amount": "40.00"},
			{"user_id": 3, "amount": "40.00"}
		]
	}`)

	// Settle everything.
	for _, user := range []int{2, 3} {
		id := assignmentID(t, db, expenseID, user)
		rr := doRequest(t, h.ToggleAssignment, http.MethodPost, "/expenses/assignments/toggle", user, "", map[string]string{"id": strconv.Itoa(id)})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.True(t, expenseFulfilled(t, db, expenseID))

	// Replacing the split resets the assignments, so the aggregate must
	// drop back to unfulfilled in the same transaction.
	rr := doRequest(t, h.ReplaceExpense, http.MethodPatch, "/expenses/update", 1, `{
		"title": "Hotel + parking",
		"amount": "90.00",
		"occurred_at": "2026-03-01 08:00:00",
		"assigned": [
			{"user_id": 2, "amount": "45.00"},
			{"user_id": 3, "amount": "45.00"}
		]
	}`, map[string]string{"id": strconv.Itoa(expenseID)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.False(t, expenseFulfilled(t, db, expenseID))

	var occurredAt string
	require.NoError(t, db.QueryRow("SELECT occurred_at FROM expenses WHERE id = ?", expenseID).Scan(&occurredAt))
	require.Equal(t, "2026-03-01 08:00:00", occurredAt, "an edited date must be persisted")

	// An omitted date keeps the stored one; a malformed one is rejected.
	rr = doRequest(t, h.ReplaceExpense, http.MethodPatch, "/expenses/update", 1, `{
		"title": "Hotel + parking",
		"amount": "90.00",
		"assigned": [
			{"user_id": 2, "amount": "45.00"},
			{"user_id": 3, "amount": "45.00"}
		]
	}`, map[string]string{"id": strconv.Itoa(expenseID)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, db.QueryRow("SELECT occurred_at FROM expenses WHERE id = ?", expenseID).Scan(&occurredAt))
	require.Equal(t, "2026-03-01 08:00:00", occurredAt)

	rr = doRequest(t, h.ReplaceExpense, http.MethodPatch, "/expenses/update", 1, `{
		"title": "Hotel + parking",
		"amount": "90.00",
		"occurred_at": "last tuesday",
		"assigned": [
			{"user_id": 2, "amount": "45.00"},
			{"user_id": 3, "amount": "45.00"}
		]
	}`, map[string]string{"id": strconv.Itoa(expenseID)})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM assigned_expenses WHERE expense_id = ?", expenseID).Scan(&count))
	require.Equal(t, 2, count)

	// A plain member cannot edit.
	rr = doRequest(t, h.ReplaceExpense, http.MethodPatch, "/expenses/update", 3, `{
		"title": "Hijacked",
		"amount": "1.00",
		"assigned": [{"user_id": 3, "amount": "1.00"}]
	}`, map[string]string{"id": strconv.Itoa(expenseID)})
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeleteExpenseAdminOnly(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	expenseID, _ := createExpense(t, h, 1, `{
		"group_id": 1,
		"title": "Tickets",
		"amount": "20.00",
		"assigned": [{"user_id": 2, "amount": "20.00"}]
	}`)
	target := map[string]string{"id": strconv.Itoa(expenseID)}

	// Moderators cannot delete.
	rr := doRequest(t, h.DeleteExpense, http.MethodDelete, "/expenses/delete", 2, "", target)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, h.DeleteExpense, http.MethodDelete, "/expenses/delete", 1, "", target)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM assigned_expenses WHERE expense_id = ?", expenseID).Scan(&count))
	require.Zero(t, count, "deleting an expense must delete its assignments")
}

func TestGetMemberBalance(t *testing.T) {
	db := setupTestDB(t)
	h := New(db)

	// Alice paid 60, Bob and Carol owe 30 each.
	createExpense(t, h, 1, `{
		"group_id": 1,
		"title": "Fuel",
		"amount": "60.00",
		"payer_id": 1,
		"assigned": [
			{"user_id": 2, "amount": "30.00"},
			{"user_id": 3, "amount": "30.00"}
		]
	}`)

	rr := doRequest(t, h.GetMemberBalance, http.MethodGet, "/expenses/member/balance", 2, "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]interface{})

	owes := data["owes"].([]interface{})
	require.Len(t, owes, 1)
	entry := owes[0].(map[string]interface{})
	require.Equal(t, float64(1), entry["user_id"])
	require.Equal(t, "30", strings.TrimSuffix(entry["total"].(string), ".00"))

	// The payer's own view mirrors it.
	rr = doRequest(t, h.GetMemberBalance, http.MethodGet, "/expenses/member/balance", 1, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	data = decodeBody(t, rr)["data"].(map[string]interface{})
	require.Len(t, data["is_owed"].([]interface{}), 2)
}
