// Package http provides the HTTP servers of the experiment engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/gogo/experiments/internal/feed"
	"github.com/xiaot623/gogo/experiments/internal/service"
	"github.com/xiaot623/gogo/experiments/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/gogo/experiments/internal/transport/http/v1"
)

// NewExternalServer creates and configures the public HTTP server.
// This server handles experiment creation, runs, analysis and the live feed.
func NewExternalServer(svc *service.Service, feedServer *feed.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, feedServer)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// NewInternalServer creates and configures the operator HTTP server.
func NewInternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	internalHandler := internalapi.NewHandler(svc)

	// Register Routes
	internalHandler.RegisterRoutes(e)

	return e
}
