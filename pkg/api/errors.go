package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openagentd/agentd/pkg/service"
	"github.com/openagentd/agentd/pkg/store"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// mapServiceError translates service and store errors to HTTP status codes.
func mapServiceError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case strings.Contains(err.Error(), "unknown flow type"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
