package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

func TestClientDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/experiments":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"experiments":["exp_1"]}`))
		case "/v1/experiments/exp_1/run":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"upstream down","variant_id":"B"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("not found"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	var list domain.ListExperimentsResponse
	require.NoError(t, c.Do(ctx, http.MethodGet, "/v1/experiments", nil, &list))
	assert.Equal(t, []string{"exp_1"}, list.Experiments)

	err := c.Do(ctx, http.MethodPost, "/v1/experiments/exp_1/run", domain.RunRequest{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Contains(t, err.Error(), "variant B")

	err = c.Do(ctx, http.MethodGet, "/missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestParseSplit(t *testing.T) {
	split, err := parseSplit([]string{"A=0.25", "B=0.75"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"A": 0.25, "B": 0.75}, split)

	_, err = parseSplit([]string{"A"})
	assert.Error(t, err)
	_, err = parseSplit([]string{"A=lots"})
	assert.Error(t, err)
}

func TestFeedURL(t *testing.T) {
	got, err := feedURL("http://localhost:8080/", "exp_1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/experiments/exp_1/feed", got)

	got, err = feedURL("https://engine.example.com/api", "exp_1")
	require.NoError(t, err)
	assert.Equal(t, "wss://engine.example.com/api/v1/experiments/exp_1/feed", got)

	_, err = feedURL("ftp://host", "exp_1")
	assert.Error(t, err)
}

func TestFormatFeedMessage(t *testing.T) {
	assert.Equal(t, "[status] paused", formatFeedMessage(domain.FeedMessage{Type: domain.FeedEventStatus, Status: domain.ExperimentStatusPaused}))
	assert.Equal(t, "[archived] winner=A", formatFeedMessage(domain.FeedMessage{
		Type:    domain.FeedEventArchived,
		Summary: &domain.AnalysisSummary{Winner: "A"},
	}))
	assert.Equal(t, `[outcome] variant=B request=r1 metrics={"latency":3}`, formatFeedMessage(domain.FeedMessage{
		Type:    domain.FeedEventOutcome,
		Outcome: &domain.Outcome{VariantID: "B", RequestID: "r1", Metrics: map[string]float64{"latency": 3}},
	}))
}
