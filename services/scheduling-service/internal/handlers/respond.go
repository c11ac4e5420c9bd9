package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/crewsched/crewsched/services/scheduling-service/internal/reschedule"
)

type errorResponse struct {
	Error     string   `json:"error"`
	Conflicts []string `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeDomainError maps the engine's typed errors onto HTTP statuses.
// Anything untyped is an upstream failure and stays opaque to the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case reschedule.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case reschedule.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case reschedule.IsConflict(err):
		var ce *reschedule.ConflictError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: ce.Reason, Conflicts: ce.Conflicts})
			return
		}
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
