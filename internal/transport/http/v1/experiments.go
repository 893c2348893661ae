package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/transport/http/apierr"
)

// CreateExperiment registers a new experiment.
// POST /v1/experiments
func (h *Handler) CreateExperiment(c echo.Context) error {
	var cfg domain.ExperimentConfig
	if err := c.Bind(&cfg); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	id, err := h.service.CreateExperiment(c.Request().Context(), cfg)
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, domain.CreateExperimentResponse{ExperimentID: id})
}

// ListExperiments lists active experiment ids in creation order.
// GET /v1/experiments
func (h *Handler) ListExperiments(c echo.Context) error {
	ids := h.service.ActiveExperiments()
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, domain.ListExperimentsResponse{Experiments: ids})
}

// GetExperiment returns an active experiment record.
// GET /v1/experiments/:experiment_id
func (h *Handler) GetExperiment(c echo.Context) error {
	rec, err := h.service.GetExperiment(c.Param("experiment_id"))
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// RunExperiment assigns the subject and runs the variant's executor.
// POST /v1/experiments/:experiment_id/run
func (h *Handler) RunExperiment(c echo.Context) error {
	var req domain.RunRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadRequest(c, "invalid request body")
	}

	resp, err := h.service.RunNamedVariant(c.Request().Context(), c.Param("experiment_id"), req)
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// AnalyzeExperiment returns the current analysis summary.
// GET /v1/experiments/:experiment_id/analysis
func (h *Handler) AnalyzeExperiment(c echo.Context) error {
	summary, err := h.service.Analyze(c.Request().Context(), c.Param("experiment_id"))
	if err != nil {
		return apierr.Write(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// GetResults lists recorded outcomes in arrival order.
// GET /v1/experiments/:experiment_id/results
func (h *Handler) GetResults(c echo.Context) error {
	id := c.Param("experiment_id")
	outcomes, err := h.service.Results(c.Request().Context(), id)
	if err != nil {
		return apierr.Write(c, err)
	}
	if outcomes == nil {
		outcomes = []domain.Outcome{}
	}
	return c.JSON(http.StatusOK, domain.ResultsResponse{
		ExperimentID: id,
		Outcomes:     outcomes,
	})
}
