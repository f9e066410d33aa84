package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"examreg/internal/slots/models"
	dErrors "examreg/pkg/domain-errors"
	"examreg/pkg/platform/sentinel"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into a consistent JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		domainErr = dErrors.New(dErrors.CodeInternal, "internal error")
	}
	writeJSON(w, dErrors.ToHTTPStatus(domainErr.Code), map[string]string{
		"error":   string(domainErr.Code),
		"message": domainErr.Message,
	})
}

// toDomainError maps store and service errors onto coded domain errors for
// the transport layer. Unknown errors stay internal.
func toDomainError(err error) *dErrors.Error {
	var insufficient *models.InsufficientSlotsError
	switch {
	case errors.As(err, &insufficient):
		return dErrors.Wrap(err, dErrors.CodeConflict, insufficient.Error())
	case errors.Is(err, models.ErrAccountNotInitialized):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "no slot account; purchase slots first")
	case errors.Is(err, models.ErrInvalidUsageRequest):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid slot usage request")
	case errors.Is(err, models.ErrGatewayUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "payment gateway unavailable")
	case errors.Is(err, models.ErrGatewayRejected):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "payment gateway rejected the request")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "conflict")
	case errors.Is(err, sentinel.ErrCorrupted):
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger state inconsistent")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}
}
