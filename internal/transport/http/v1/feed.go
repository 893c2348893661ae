package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/transport/http/apierr"
)

// Feed upgrades to a websocket streaming outcome and lifecycle messages of
// one active experiment.
// GET /v1/experiments/:experiment_id/feed
func (h *Handler) Feed(c echo.Context) error {
	id := c.Param("experiment_id")
	if _, err := h.service.GetExperiment(id); err != nil {
		return apierr.Write(c, err)
	}
	return h.feed.Serve(c, id)
}
