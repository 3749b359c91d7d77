package worker

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vykuang/mh-flight-logs/pkg/logger"
)

// Lockable is started while this instance holds the schedule lock and
// stopped when it loses it. *Scheduler implements it.
type Lockable interface {
	Start() error
	Stop()
}

// LeaderConfig tunes the schedule lock.
type LeaderConfig struct {
	Key   string
	TTL   time.Duration
	Renew time.Duration
}

// DefaultLeaderConfig returns the lock settings used by the serve command.
func DefaultLeaderConfig(prefix string) LeaderConfig {
	return LeaderConfig{
		Key:   prefix + ":scheduler:leader",
		TTL:   30 * time.Second,
		Renew: 10 * time.Second,
	}
}

// LeaderElector keeps a single scheduler running across replicas sharing
// one Redis. The lock value is the instance ID so only the holder can
// renew or release it.
type LeaderElector struct {
	client     *redis.Client
	cfg        LeaderConfig
	instanceID string
	target     Lockable
	log        *logger.Logger
	isLeader   atomic.Bool
}

// NewLeaderElector creates an elector that drives target.
func NewLeaderElector(client *redis.Client, cfg LeaderConfig, target Lockable, log *logger.Logger) *LeaderElector {
	if log == nil {
		log = logger.Default()
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "mh-flight-logs"
	}
	id := fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())

	return &LeaderElector{
		client:     client,
		cfg:        cfg,
		instanceID: id,
		target:     target,
		log:        log.WithFields(map[string]interface{}{"component": "leader", "instance": id}),
	}
}

// IsLeader reports whether this instance holds the lock.
func (le *LeaderElector) IsLeader() bool {
	return le.isLeader.Load()
}

// InstanceID returns the lock value this instance writes.
func (le *LeaderElector) InstanceID() string {
	return le.instanceID
}

// Run campaigns for the lock until ctx is cancelled, then stops the target
// and releases the lock if held.
func (le *LeaderElector) Run(ctx context.Context) {
	le.log.Info("Leader election started", "key", le.cfg.Key, "ttl", le.cfg.TTL, "renew", le.cfg.Renew)
	le.tick(ctx)

	ticker := time.NewTicker(le.cfg.Renew)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			le.resign()
			return
		case <-ticker.C:
			le.tick(ctx)
		}
	}
}

func (le *LeaderElector) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if le.isLeader.Load() {
		if !le.renew(ctx) {
			le.log.Warn("Lost leadership")
			le.isLeader.Store(false)
			le.target.Stop()
		}
		return
	}

	if !le.acquire(ctx) {
		return
	}
	if err := le.target.Start(); err != nil {
		le.log.Error(err, "failed to start scheduler after acquiring leadership")
		le.release(ctx)
		return
	}
	le.isLeader.Store(true)
	le.log.Info("Acquired leadership")
}

func (le *LeaderElector) resign() {
	if !le.isLeader.Swap(false) {
		le.log.Info("Leader election stopped (was not leader)")
		return
	}
	le.target.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	le.release(ctx)
	le.log.Info("Leader election stopped, lock released")
}

func (le *LeaderElector) acquire(ctx context.Context) bool {
	ok, err := le.client.SetNX(ctx, le.cfg.Key, le.instanceID, le.cfg.TTL).Result()
	if err != nil {
		le.log.Error(err, "acquiring leader lock")
		return false
	}
	return ok
}

// renewScript extends the lock only if we still own it.
var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (le *LeaderElector) renew(ctx context.Context) bool {
	n, err := renewScript.Run(ctx, le.client, []string{le.cfg.Key}, le.instanceID, le.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		le.log.Error(err, "renewing leader lock")
		return false
	}
	return n == 1
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (le *LeaderElector) release(ctx context.Context) {
	n, err := releaseScript.Run(ctx, le.client, []string{le.cfg.Key}, le.instanceID).Int()
	if err != nil {
		le.log.Error(err, "releasing leader lock")
		return
	}
	if n == 0 {
		le.log.Debug("Leader lock already gone or held by another instance")
	}
}
