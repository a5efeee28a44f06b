package middleware

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes value as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// WriteError writes {"error": code}. Codes are generic so failures do not reveal which check failed.
func WriteError(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]string{"error": code})
}

// Unauthorized writes the 401 body shared by every auth failure.
func Unauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "unauthorized")
}
