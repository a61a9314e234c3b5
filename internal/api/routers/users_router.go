package routers

import (
	"database/sql"
	"net/http"

	"sharetab/internal/api/handlers/auth"
)

func usersRouter(db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()

	h := auth.New(db)

	mux.HandleFunc("/users/signup", h.Signup)

	mux.HandleFunc("/users/login", h.Login)

	mux.HandleFunc("/users/logout", h.Logout)

	mux.HandleFunc("/users/profile", h.Profile)

	mux.HandleFunc("/users/password", h.UpdatePassword)

	return mux
}
