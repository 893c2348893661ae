// Package apierr maps engine errors to HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExecution):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Write renders err as {"error": "..."}. Execution errors also carry the
// variant that failed.
func Write(c echo.Context, err error) error {
	resp := domain.ErrorResponse{Error: err.Error()}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		resp.VariantID = execErr.VariantID
	}
	return c.JSON(Status(err), resp)
}

// BadRequest renders a 400 with msg.
func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg})
}
