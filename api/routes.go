// Package api serves stored delay reports over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/pkg/health"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/pkg/middleware"
)

// Deps are the services behind the routes. Cache, Health and Schedule may be nil.
type Deps struct {
	Reports  ReportTexter
	Cache    *cache.CacheManager
	Health   *health.HealthChecker
	Schedule ScheduleState
	Logger   *logger.Logger
}

// NewRouter builds a gin engine with the middleware stack and all routes.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))
	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes registers all API routes
func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.Health != nil {
		router.GET("/health", healthHandler(deps.Health.CheckHealth))
		router.GET("/health/ready", healthHandler(deps.Health.CheckReadiness))
		router.GET("/health/live", healthHandler(deps.Health.CheckLiveness))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/reports/:date", getReport(deps.Reports, deps.Cache, deps.Logger))
		if deps.Schedule != nil {
			v1.GET("/schedule", getSchedule(deps.Schedule))
		}
	}
}
