package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/CrisisTextLine/lightq/internal/config"
	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/queue"
	"github.com/go-chi/chi/v5/middleware"
)

// errorBody is the unified error response shape every endpoint returns:
// {timestamp, status, error, message, path, requestId}.
type errorBody struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	RequestID string `json:"requestId"`
}

// statusFor maps a core-package sentinel error to its HTTP status.
// Programming errors (anything not recognized) fall through to 500 and are
// never retried.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidGroup),
		errors.Is(err, model.ErrEmptyContent),
		errors.Is(err, model.ErrContentTooLarge),
		errors.Is(err, config.ErrAsyncWithSchedule):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrMessageMissing),
		errors.Is(err, queue.ErrNotReservable):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrNotReserved):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	writeErrorStatus(w, r, status, err.Error())
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
