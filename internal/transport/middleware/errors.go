package middleware

import (
	"net/http"

	"github.com/goccy/go-json"
)

// writeError writes the error body shared with the REST controllers.
func writeError(w http.ResponseWriter, status int, name, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"name": name, "message": message})
}
