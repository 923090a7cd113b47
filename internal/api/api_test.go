package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashngshop/dash-jobs/internal/api"
	"github.com/dashngshop/dash-jobs/internal/jobqueue"
)

type stubStats struct {
	stats []jobqueue.QueueStats
	err   error
}

func (s *stubStats) QueueStats(ctx context.Context) ([]jobqueue.QueueStats, error) {
	return s.stats, s.err
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))
	return recorder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandlerHealth(t *testing.T) {
	t.Parallel()

	handler := api.NewHandler(&stubStats{}, testLogger())

	resp := doRequest(t, handler, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestHandlerQueues(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		t.Parallel()

		handler := api.NewHandler(&stubStats{stats: []jobqueue.QueueStats{
			{Name: "email", QueueCounts: jobqueue.QueueCounts{Waiting: 2, Completed: 5}},
			{Name: "geo-location", QueueCounts: jobqueue.QueueCounts{Active: 1, Failed: 3}},
		}}, testLogger())

		resp := doRequest(t, handler, http.MethodGet, "/api/queues")
		require.Equal(t, http.StatusOK, resp.Code)
		require.JSONEq(t, `{
			"queues": [
				{"name": "email", "waiting": 2, "active": 0, "completed": 5, "failed": 0},
				{"name": "geo-location", "waiting": 0, "active": 1, "completed": 0, "failed": 3}
			]
		}`, resp.Body.String())
	})

	t.Run("StatsError", func(t *testing.T) {
		t.Parallel()

		handler := api.NewHandler(&stubStats{err: errors.New("store down")}, testLogger())

		resp := doRequest(t, handler, http.MethodGet, "/api/queues")
		require.Equal(t, http.StatusInternalServerError, resp.Code)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		t.Parallel()

		handler := api.NewHandler(&stubStats{}, testLogger())

		resp := doRequest(t, handler, http.MethodPost, "/api/queues")
		require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	})
}
