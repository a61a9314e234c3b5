package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"sharetab/pkg/utils"
)

// UserID extracts the authenticated user id placed on the context by
// the JWT middleware. JWT claims decode numbers as float64.
func UserID(r *http.Request) (int, bool) {
	idFloat, ok := r.Context().Value(utils.UserIDKey).(float64)
	if !ok {
		return 0, false
	}
	return int(idFloat), true
}

// PathID parses a numeric path value.
func PathID(r *http.Request, name string) (int, error) {
	return strconv.Atoi(r.PathValue(name))
}

// DecodeStrict decodes the request body rejecting unknown fields, so
// clients cannot smuggle in server-derived columns like fulfilled.
func DecodeStrict(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
