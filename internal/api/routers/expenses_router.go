package routers

import (
	"database/sql"
	"net/http"

	"sharetab/internal/api/handlers/expenses"
)

func expensesRouter(db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()

	h := expenses.New(db)

	mux.HandleFunc("/expenses/create", h.CreateExpense)

	mux.HandleFunc("/expenses/{id}/group", h.GetGroupExpenses)

	mux.HandleFunc("/expenses/details/{id}", h.GetExpenseByID)

	mux.HandleFunc("/expenses/{id}/update", h.ReplaceExpense)

	mux.HandleFunc("/expenses/delete/{id}", h.DeleteExpense)

	mux.HandleFunc("/expenses/assignments/{id}/toggle", h.ToggleAssignment)

	mux.HandleFunc("/expenses/member/balance", h.GetMemberBalance)

	mux.HandleFunc("/expenses/{id}/balance", h.GetGroupBalance)

	return mux
}
