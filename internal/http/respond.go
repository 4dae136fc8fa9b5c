package httpx

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/splax/placeshare/internal/apperr"
)

const genericFailure = "An unknown error occurred!"

// errorBody is the shape of every error response.
type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg, StatusCode: status})
}

// writeAppError maps err onto a status code and public message. Unclassified
// errors become a generic 500; the cause is only logged.
func writeAppError(w http.ResponseWriter, logger *slog.Logger, req *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()
	message := apperr.Message(err, genericFailure)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", req.URL.Path, "kind", kind.String(), "error", err)
	} else {
		logger.Debug("request rejected", "path", req.URL.Path, "kind", kind.String(), "error", err)
	}
	writeError(w, status, message)
}
