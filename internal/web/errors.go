package web

// errors.go maps dispatch failures onto HTTP responses.
//
// Clients get a stable code and a status that tells them whether to retry:
//   - 4xx for notifications that will never succeed as sent
//   - 503 when the failure is retryable (sink or store unavailable)
//   - 500 otherwise

import (
	"encoding/json"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvsink/internal/logging"
	"github.com/JonMunkholm/csvsink/internal/notify"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	RequestID string         `json:"request_id,omitempty"`
	Report    *notify.Report `json:"report,omitempty"`
}

// respondError logs err with request context and writes a JSON error.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err,
	)
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// respondDispatchError reports a fail-fast abort. The dispatcher has
// already logged the underlying failure.
func respondDispatchError(w http.ResponseWriter, r *http.Request, report *notify.Report, err error) {
	info := notify.Classify(err)
	writeJSON(w, statusFor(info.Code, info.Retryable), ErrorResponse{
		Error:     err.Error(),
		Code:      info.Code,
		Retryable: info.Retryable,
		RequestID: chimw.GetReqID(r.Context()),
		Report:    report,
	})
}

// statusFor picks the HTTP status for a classified error.
func statusFor(code string, retryable bool) int {
	switch {
	case code == "NTF001":
		return http.StatusBadRequest
	case code == "OBJ001":
		return http.StatusNotFound
	case code == "OBJ002":
		return http.StatusForbidden
	case code == "OBJ003", code == "OBJ004", code == "SNK001", code == "SNK005":
		return http.StatusUnprocessableEntity
	case retryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
