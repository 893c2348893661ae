package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/transport/http/apierr"
)

// PauseExperiment stops new runs of an experiment.
// POST /internal/experiments/:experiment_id/pause
func (h *Handler) PauseExperiment(c echo.Context) error {
	rec, err := h.service.Pause(c.Request().Context(), c.Param("experiment_id"))
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, domain.StatusResponse{ExperimentID: rec.ID, Status: rec.Status})
}

// ResumeExperiment puts a paused experiment back to running.
// POST /internal/experiments/:experiment_id/resume
func (h *Handler) ResumeExperiment(c echo.Context) error {
	rec, err := h.service.Resume(c.Request().Context(), c.Param("experiment_id"))
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, domain.StatusResponse{ExperimentID: rec.ID, Status: rec.Status})
}

// StopExperiment archives an experiment and returns its final summary.
// POST /internal/experiments/:experiment_id/stop
func (h *Handler) StopExperiment(c echo.Context) error {
	summary, err := h.service.Stop(c.Request().Context(), c.Param("experiment_id"))
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// UpdateTrafficSplit replaces the traffic split of a live experiment.
// PUT /internal/experiments/:experiment_id/split
func (h *Handler) UpdateTrafficSplit(c echo.Context) error {
	var req domain.TrafficSplitRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}
	if len(req.TrafficSplit) == 0 {
		return apierr.BadRequest(c, "traffic_split is required")
	}

	rec, err := h.service.UpdateTrafficSplit(c.Request().Context(), c.Param("experiment_id"), req.TrafficSplit)
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// ListSummaries lists the final summaries of archived experiments.
// GET /internal/summaries
func (h *Handler) ListSummaries(c echo.Context) error {
	summaries, err := h.service.ListSummaries(c.Request().Context())
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, domain.ListSummariesResponse{Summaries: summaries})
}
