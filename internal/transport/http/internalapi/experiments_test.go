package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/experiments/internal/config"
	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/ledger"
	"github.com/xiaot623/gogo/experiments/internal/registry"
	"github.com/xiaot623/gogo/experiments/internal/service"
	"github.com/xiaot623/gogo/experiments/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service, string) {
	t.Helper()
	svc := service.New(config.Defaults(), registry.New(), ledger.New(),
		service.WithStore(helpers.NewTestSQLiteStore(t)))

	id, err := svc.CreateExperiment(context.Background(), domain.ExperimentConfig{
		Name:          "greeting",
		Variants:      []domain.Variant{{ID: "A"}, {ID: "B"}},
		TrafficSplit:  map[string]float64{"A": 0.5, "B": 0.5},
		Metrics:       []string{"successRate"},
		MinSampleSize: 30,
	})
	require.NoError(t, err)
	return NewHandler(svc), svc, id
}

func call(t *testing.T, handler echo.HandlerFunc, method, body, id string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("experiment_id")
		c.SetParamValues(id)
	}
	require.NoError(t, handler(c))
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) domain.StatusResponse {
	t.Helper()
	var resp domain.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPauseResume(t *testing.T) {
	h, _, id := newTestHandler(t)

	rec := call(t, h.PauseExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ExperimentStatusPaused, decodeStatus(t, rec).Status)

	rec = call(t, h.ResumeExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ExperimentStatusRunning, decodeStatus(t, rec).Status)

	rec = call(t, h.PauseExperiment, http.MethodPost, "", "exp_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopExperiment(t *testing.T) {
	h, svc, id := newTestHandler(t)

	rec := call(t, h.StopExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusOK, rec.Code)
	var first domain.AnalysisSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, domain.ExperimentStatusArchived, first.Status)

	rec = call(t, h.StopExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusOK, rec.Code)
	var second domain.AnalysisSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first, second)

	assert.Empty(t, svc.ActiveExperiments())

	rec = call(t, h.PauseExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h.ListSummaries, http.MethodGet, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list domain.ListSummariesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Summaries, 1)
	assert.Equal(t, id, list.Summaries[0].ExperimentID)
}

func TestListSummariesEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := call(t, h.ListSummaries, http.MethodGet, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summaries":[]}`, rec.Body.String())
}

func TestUpdateTrafficSplit(t *testing.T) {
	h, svc, id := newTestHandler(t)

	rec := call(t, h.UpdateTrafficSplit, http.MethodPut, `{"traffic_split":{"A":0.2,"B":0.8}}`, id)
	assert.Equal(t, http.StatusOK, rec.Code)
	got, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Config.TrafficSplit["B"])

	rec = call(t, h.UpdateTrafficSplit, http.MethodPut, `{"traffic_split":{"A":0.2,"C":0.8}}`, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.UpdateTrafficSplit, http.MethodPut, `{}`, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h.UpdateTrafficSplit, http.MethodPut, `{"traffic_split":{"A":0.5,"B":0.5}}`, "exp_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeCompletedConflicts(t *testing.T) {
	h, svc, id := newTestHandler(t)
	ctx := context.Background()

	_, err := svc.UpdateTrafficSplit(ctx, id, map[string]float64{"A": 1, "B": 0})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := svc.RunVariant(ctx, id, domain.RunRequest{}, func(context.Context, domain.Variant, map[string]any) (domain.Result, error) {
			return domain.Result{"output": "ok"}, nil
		})
		require.NoError(t, err)
	}

	rec := call(t, h.ResumeExperiment, http.MethodPost, "", id)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
