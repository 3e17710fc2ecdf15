package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/settlement"
)

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, settlement.ErrPayoutFailed):
		return http.StatusBadGateway
	case errors.Is(err, settlement.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, settlement.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity
	}

	switch settlement.KindOf(err) {
	case settlement.KindAuthorization:
		return http.StatusForbidden
	case settlement.KindSchedule, settlement.KindState, settlement.KindReentrancy:
		return http.StatusConflict
	case settlement.KindPayment, settlement.KindOracleInvalid:
		return http.StatusUnprocessableEntity
	case settlement.KindNotFound:
		return http.StatusNotFound
	case settlement.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with its stable code. Unclassified errors are
// logged and reported as "internal" without leaking their message.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := settlement.CodeOf(err)
	metrics.ErrorsTotal.WithLabelValues(code).Inc()

	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("engine call failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
