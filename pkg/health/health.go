package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check represents a single health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Critical  bool              `json:"-"`
}

// HealthReport represents the overall health of the application
type HealthReport struct {
	Status    Status           `json:"status"`
	Version   string           `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    time.Duration    `json:"uptime"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) Check
}

func newCheck(name string, critical bool) Check {
	return Check{Name: name, Timestamp: time.Now(), Details: make(map[string]string), Critical: critical}
}

func (c *Check) finish(err error, okMessage string) {
	c.Duration = time.Since(c.Timestamp)
	if err != nil {
		c.Status = StatusDown
		c.Message = fmt.Sprintf("%s check failed: %v", c.Name, err)
		c.Details["error"] = err.Error()
		return
	}
	c.Status = StatusUp
	c.Message = okMessage
	c.Details["response_time"] = c.Duration.String()
}

// StoreChecker pings the flight store.
type StoreChecker struct {
	DB   *sql.DB
	Name string
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name, true)
	check.finish(c.DB.PingContext(ctx), "Database connection successful")
	return check
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	Client *redis.Client
	Name   string
}

func (c *RedisChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name, true)
	pong, err := c.Client.Ping(ctx).Result()
	check.finish(err, "Redis connection successful")
	if err == nil {
		check.Details["ping_response"] = pong
	}
	return check
}

// SchedulerState is the view of the daily scheduler the checker needs.
type SchedulerState interface {
	Next() time.Time
}

// SchedulerChecker reports when the next scheduled run is due. A stopped
// scheduler is not a failure: another replica may hold the schedule lock.
type SchedulerChecker struct {
	Scheduler SchedulerState
	Name      string
}

func (c *SchedulerChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name, false)
	check.finish(nil, "Scheduler idle on this instance")
	if next := c.Scheduler.Next(); !next.IsZero() {
		check.Message = "Scheduler active"
		check.Details["next_run"] = next.Format(time.RFC3339)
	}
	return check
}

// HealthChecker orchestrates multiple health checks
type HealthChecker struct {
	checkers  []Checker
	version   string
	startTime time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checkers:  make([]Checker, 0),
		version:   version,
		startTime: time.Now(),
	}
}

// AddChecker adds a health checker
func (h *HealthChecker) AddChecker(checker Checker) {
	h.checkers = append(h.checkers, checker)
}

// CheckHealth performs all health checks
func (h *HealthChecker) CheckHealth(ctx context.Context) HealthReport {
	return h.run(ctx, false)
}

// CheckReadiness only runs the checks a request depends on.
func (h *HealthChecker) CheckReadiness(ctx context.Context) HealthReport {
	return h.run(ctx, true)
}

func (h *HealthChecker) run(ctx context.Context, criticalOnly bool) HealthReport {
	checks := make(map[string]Check)
	overallStatus := StatusUp

	for _, checker := range h.checkers {
		check := checker.Check(ctx)
		if criticalOnly && !check.Critical {
			continue
		}
		checks[check.Name] = check
		if check.Status == StatusDown {
			overallStatus = StatusDown
		}
	}

	return HealthReport{
		Status:    overallStatus,
		Version:   h.version,
		Timestamp: time.Now(),
		Checks:    checks,
		Uptime:    time.Since(h.startTime),
	}
}

// CheckLiveness performs liveness checks (basic application health)
func (h *HealthChecker) CheckLiveness(ctx context.Context) HealthReport {
	return HealthReport{
		Status:    StatusUp,
		Version:   h.version,
		Timestamp: time.Now(),
		Checks: map[string]Check{
			"application": {
				Name:      "application",
				Status:    StatusUp,
				Message:   "Application is running",
				Timestamp: time.Now(),
			},
		},
		Uptime: time.Since(h.startTime),
	}
}
