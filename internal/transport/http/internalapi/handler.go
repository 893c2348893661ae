// Package internalapi provides the operator API: lifecycle actions, traffic
// split changes and archived summaries. It is served on the internal port
// only.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/service"
)

// Handler handles operator HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Lifecycle
	e.POST("/internal/experiments/:experiment_id/pause", h.PauseExperiment)
	e.POST("/internal/experiments/:experiment_id/resume", h.ResumeExperiment)
	e.POST("/internal/experiments/:experiment_id/stop", h.StopExperiment)

	// Traffic
	e.PUT("/internal/experiments/:experiment_id/split", h.UpdateTrafficSplit)

	// Archive
	e.GET("/internal/summaries", h.ListSummaries)
}
