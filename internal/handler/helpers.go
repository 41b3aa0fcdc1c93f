package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Authentication happens at the gateway; it forwards the authenticated
// user in this header.
const userIDHeader = "X-User-ID"

var errNoUser = errors.New("missing user header")

func requestUserID(r *http.Request) (int64, error) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		return 0, errNoUser
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errNoUser
	}
	return id, nil
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
