package httpadapter

import (
	"net/http"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

// mapErrorToHTTPStatus translates domain error kinds to status codes.
// Anything unrecognized is a 500 so internals never leak a misleading code.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidImage):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrPredictionNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
