package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vykuang/mh-flight-logs/pkg/logger"
)

const (
	// RequestIDHeader carries the request ID in and out of the API.
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID reuses an incoming X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID set by RequestID, if any.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger creates a structured logging middleware for Gin
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      path,
			"status":    statusCode,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		}
		if requestID := GetRequestID(c); requestID != "" {
			fields["request_id"] = requestID
		}
		if raw != "" {
			fields["query"] = raw
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		const logMsg = "HTTP Request"
		switch {
		case statusCode >= 500:
			log.WithFields(fields).Error(nil, logMsg)
		case statusCode >= 400:
			log.WithFields(fields).Warn(logMsg)
		default:
			log.WithFields(fields).Debug(logMsg)
		}
	}
}

// Recovery creates a recovery middleware with structured logging
func Recovery(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"request_id": GetRequestID(c),
			"panic":      recovered,
		}).Error(nil, "Panic recovered")
		c.AbortWithStatus(500)
	})
}
