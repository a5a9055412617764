package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"byggarportalen/internal/storage/zapadapter"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func TestLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	l := newLimiter(rate.Every(time.Hour), 1)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	require.True(t, l.allow("10.0.0.1:5000"))
	require.False(t, l.allow("10.0.0.1:5001"))
	require.True(t, l.allow("10.0.0.2:5000"))
	require.Len(t, l.buckets, 2)

	now = now.Add(limiterIdle / 2)
	require.False(t, l.allow("10.0.0.2:5000"))

	// 10.0.0.1 has been idle for a full period, 10.0.0.2 only for half
	now = now.Add(limiterIdle / 2)
	require.True(t, l.allow("10.0.0.3:5000"))
	require.Len(t, l.buckets, 2)
	require.NotContains(t, l.buckets, "10.0.0.1")
	require.Contains(t, l.buckets, "10.0.0.2")
}

func TestInternalErrorLogsRequestID(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := &handler{logger: zap.New(core).Sugar()}

	r := httptest.NewRequest("GET", "/api/projects", nil)
	r = r.WithContext(zapadapter.NewContextWithID(r.Context(), "req-1"))
	rr := httptest.NewRecorder()

	h.internalError(rr, r, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "Internal Server Error\n", rr.Body.String())

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "GET /api/projects: boom", entries[0].Message)
	require.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}
