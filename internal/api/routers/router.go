package routers

import (
	"database/sql"
	"net/http"
)

func MainRouter(db *sql.DB) *http.ServeMux {

	mux := http.NewServeMux()

	uRouter := usersRouter(db)
	mux.Handle("/users/", uRouter)

	gRouter := groupsRouter(db)
	mux.Handle("/groups/", gRouter)

	eRouter := expensesRouter(db)
	mux.Handle("/expenses/", eRouter)

	return mux
}
