package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vykuang/mh-flight-logs/pipeline"
	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/pkg/health"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/report"
)

// ReportTexter builds and renders the report for a date.
type ReportTexter interface {
	Text(ctx context.Context, date string) (*report.Report, string, error)
}

// ScheduleState is what /api/v1/schedule exposes of the scheduler.
type ScheduleState interface {
	Next() time.Time
	Last() *pipeline.Result
}

// CacheHeader tells clients whether a report came from the cache.
const CacheHeader = "X-Cache"

func healthHandler(check func(context.Context) health.HealthReport) gin.HandlerFunc {
	return func(c *gin.Context) {
		hr := check(c.Request.Context())
		status := http.StatusOK
		if hr.Status != health.StatusUp {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, hr)
	}
}

// getReport serves the cached report for a date when present, otherwise
// builds it from the store.
func getReport(reports ReportTexter, cm *cache.CacheManager, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}
	return func(c *gin.Context) {
		date := c.Param("date")
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
			return
		}
		ctx := c.Request.Context()

		if cm != nil {
			var cached report.Rendered
			err := cm.GetJSON(ctx, cache.ReportKey(date), &cached)
			switch {
			case err == nil:
				c.Header(CacheHeader, "HIT")
				c.JSON(http.StatusOK, cached)
				return
			case !errors.Is(err, cache.ErrCacheMiss):
				log.Warn("Report cache read failed", "date", date, "error", err)
			}
		}

		r, text, err := reports.Text(ctx, date)
		if err != nil {
			log.Error(err, "failed to build report", "date", date)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
			return
		}
		c.Header(CacheHeader, "MISS")
		c.JSON(http.StatusOK, report.Rendered{Report: r, Text: text})
	}
}

type scheduleResponse struct {
	NextRun *time.Time `json:"next_run"`
	LastRun *lastRun   `json:"last_run,omitempty"`
}

type lastRun struct {
	RunID            string `json:"run_id"`
	Date             string `json:"date"`
	Stored           int    `json:"stored"`
	Skipped          int    `json:"skipped"`
	Text             string `json:"text,omitempty"`
	AlreadyPublished bool   `json:"already_published"`
	PublishError     string `json:"publish_error,omitempty"`
}

func getSchedule(s ScheduleState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var resp scheduleResponse
		if next := s.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
		if res := s.Last(); res != nil {
			lr := &lastRun{
				RunID:            res.RunID,
				Date:             res.Date,
				Stored:           res.Stored,
				Skipped:          res.Skipped,
				Text:             res.Text,
				AlreadyPublished: res.AlreadyPublished,
			}
			if res.PublishErr != nil {
				lr.PublishError = res.PublishErr.Error()
			}
			resp.LastRun = lr
		}
		c.JSON(http.StatusOK, resp)
	}
}
