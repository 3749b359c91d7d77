package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vykuang/mh-flight-logs/pipeline"
	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/pkg/health"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockReports struct {
	mock.Mock
}

func (m *mockReports) Text(ctx context.Context, date string) (*report.Report, string, error) {
	args := m.Called(ctx, date)
	var r *report.Report
	if v := args.Get(0); v != nil {
		r = v.(*report.Report)
	}
	return r, args.String(1), args.Error(2)
}

type fakeSchedule struct {
	next time.Time
	last *pipeline.Result
}

func (f fakeSchedule) Next() time.Time         { return f.next }
func (f fakeSchedule) Last() *pipeline.Result { return f.last }

func newCacheManager(t *testing.T) *cache.CacheManager {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewCacheManager(cache.NewRedisCache(client, "test"))
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetReportBuildsFromStore(t *testing.T) {
	reports := new(mockReports)
	avg := 45.0
	r := &report.Report{Date: "2024-01-01", Airline: "MH", Count: 1, AvgDelay: &avg,
		Top: []report.Entry{{Flight: "MH1", Departure: "Kuala Lumpur", Arrival: "Singapore Changi", Delay: 45}}}
	reports.On("Text", mock.Anything, "2024-01-01").Return(r, "On 2024-01-01, 1 MH flights", nil).Once()

	router := NewRouter(Deps{Reports: reports, Logger: logger.Discard()})
	w := get(router, "/api/v1/reports/2024-01-01")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
	var got report.Rendered
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "On 2024-01-01, 1 MH flights", got.Text)
	assert.Equal(t, r, got.Report)
	reports.AssertExpectations(t)
}

func TestGetReportServesCache(t *testing.T) {
	reports := new(mockReports)
	cm := newCacheManager(t)
	cached := report.Rendered{Report: &report.Report{Date: "2024-01-01", Airline: "MH"}, Text: "cached text"}
	require.NoError(t, cm.SetJSON(context.Background(), cache.ReportKey("2024-01-01"), cached, time.Hour))

	router := NewRouter(Deps{Reports: reports, Cache: cm, Logger: logger.Discard()})
	w := get(router, "/api/v1/reports/2024-01-01")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(CacheHeader))
	assert.Contains(t, w.Body.String(), "cached text")
	reports.AssertNotCalled(t, "Text", mock.Anything, mock.Anything)
}

func TestGetReportCacheMissFallsBack(t *testing.T) {
	reports := new(mockReports)
	reports.On("Text", mock.Anything, "2024-01-02").Return(&report.Report{Date: "2024-01-02"}, "fresh", nil)

	router := NewRouter(Deps{Reports: reports, Cache: newCacheManager(t), Logger: logger.Discard()})
	w := get(router, "/api/v1/reports/2024-01-02")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
	assert.Contains(t, w.Body.String(), "fresh")
}

func TestGetReportInvalidDate(t *testing.T) {
	reports := new(mockReports)
	router := NewRouter(Deps{Reports: reports, Logger: logger.Discard()})

	w := get(router, "/api/v1/reports/01-01-2024")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	reports.AssertNotCalled(t, "Text", mock.Anything, mock.Anything)
}

func TestGetReportStoreError(t *testing.T) {
	reports := new(mockReports)
	reports.On("Text", mock.Anything, "2024-01-01").Return(nil, "", errors.New("database is locked"))

	router := NewRouter(Deps{Reports: reports, Logger: logger.Discard()})
	w := get(router, "/api/v1/reports/2024-01-01")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to build report"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "database is locked")
}

func TestHealthRoutes(t *testing.T) {
	router := NewRouter(Deps{Reports: new(mockReports), Logger: logger.Discard()})
	w := get(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	hc := health.NewHealthChecker("test")
	hc.AddChecker(&health.SchedulerChecker{Scheduler: fakeSchedule{}, Name: "scheduler"})
	router = NewRouter(Deps{Reports: new(mockReports), Health: hc, Logger: logger.Discard()})
	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		w = get(router, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"status":"up"`, path)
	}
}

func TestGetSchedule(t *testing.T) {
	next := time.Date(2024, 1, 2, 23, 50, 0, 0, time.UTC)
	sched := fakeSchedule{next: next, last: &pipeline.Result{
		RunID: "run-1", Date: "2024-01-01", Stored: 12, Text: "On 2024-01-01...",
		PublishErr: errors.New("x: status 403"),
	}}
	router := NewRouter(Deps{Reports: new(mockReports), Schedule: sched, Logger: logger.Discard()})

	w := get(router, "/api/v1/schedule")
	require.Equal(t, http.StatusOK, w.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.NextRun)
	assert.True(t, next.Equal(*resp.NextRun))
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, 12, resp.LastRun.Stored)
	assert.Equal(t, "x: status 403", resp.LastRun.PublishError)
}
