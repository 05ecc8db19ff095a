package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status and error code clients see.
func statusFor(kind errs.Kind) (int, string) {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest, "validation_error"
	case errs.KindNotFound:
		return http.StatusNotFound, "not_found"
	case errs.KindUnauthorized:
		return http.StatusForbidden, "forbidden"
	case errs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errs.KindConcurrencyConflict:
		return http.StatusConflict, "concurrency_conflict"
	case errs.KindInvariantViolation:
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError renders a ledger error. Server side failures are logged with the correlation id and
// their details are withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := statusFor(errs.KindOf(err))
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("cid", security.CorrelationIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = ""
	}
	security.WriteError(w, r, status, code, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		security.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
