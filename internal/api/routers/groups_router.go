package routers

import (
	"database/sql"
	"net/http"

	"sharetab/internal/api/handlers/groups"
)

func groupsRouter(db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()

	h := groups.New(db)

	mux.HandleFunc("/groups/create", h.CreateGroup)

	mux.HandleFunc("/groups/", h.GetMyGroups)

	mux.HandleFunc("/groups/{id}", h.GetGroupByID)

	mux.HandleFunc("/groups/update/{id}", h.UpdateGroup)

	mux.HandleFunc("/groups/delete/{id}", h.DeleteGroup)

	mux.HandleFunc("/groups/member/{id}/add", h.AddMembers)

	mux.HandleFunc("/groups/member/{id}/accept", h.AcceptInvite)

	mux.HandleFunc("/groups/member/{id}/role", h.ChangeMemberRole)

	mux.HandleFunc("/groups/member/{id}/remove", h.RemoveMember)

	mux.HandleFunc("/groups/member/{id}/leave", h.LeaveGroup)

	return mux
}
