package httpx

import (
	"errors"
	"net/http"

	"github.com/hearthside-app/hearthside/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrSelfDelegation),
		errors.Is(err, shared.ErrInvalidDuration),
		errors.Is(err, shared.ErrInvalidScope):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInsufficientAuthority),
		errors.Is(err, shared.ErrProtectedRole):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrAlreadyActive):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrCyclicInheritance):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Inheritance", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
