package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/identity"
)

// ErrForbidden signals an authenticated caller without the required role.
var ErrForbidden = errors.New("forbidden")

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyBorrowed),
		errors.Is(err, core.ErrNoCopiesAvailable),
		errors.Is(err, core.ErrNotCurrentlyBorrowed),
		errors.Is(err, core.ErrMemberHasLoans),
		errors.Is(err, core.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, core.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, identity.ErrAuth):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return core.ErrorKind(err)
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		s.observer.Error(c.Request.Context(), "request failed", err, logAttrRoute, c.FullPath())
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Kind: errorKind(err)})
}
