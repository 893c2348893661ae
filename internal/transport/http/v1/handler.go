// Package v1 provides the public experiment API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/feed"
	"github.com/xiaot623/gogo/experiments/internal/service"
)

// Handler handles public HTTP requests.
type Handler struct {
	service *service.Service
	feed    *feed.Server
}

// NewHandler creates a new handler. feedServer may be nil, in which case the
// feed route is not registered.
func NewHandler(service *service.Service, feedServer *feed.Server) *Handler {
	return &Handler{
		service: service,
		feed:    feedServer,
	}
}

// RegisterRoutes registers public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/experiments", h.CreateExperiment)
	e.GET("/v1/experiments", h.ListExperiments)
	e.GET("/v1/experiments/:experiment_id", h.GetExperiment)
	e.POST("/v1/experiments/:experiment_id/run", h.RunExperiment)
	e.GET("/v1/experiments/:experiment_id/analysis", h.AnalyzeExperiment)
	e.GET("/v1/experiments/:experiment_id/results", h.GetResults)

	if h.feed != nil {
		e.GET("/v1/experiments/:experiment_id/feed", h.Feed)
	}

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     "0.1.0",
		"experiments": len(h.service.ActiveExperiments()),
	})
}
