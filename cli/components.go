package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vykuang/mh-flight-logs/archive"
	"github.com/vykuang/mh-flight-logs/aviationstack"
	"github.com/vykuang/mh-flight-logs/db"
	"github.com/vykuang/mh-flight-logs/pipeline"
	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/publish"
	"github.com/vykuang/mh-flight-logs/report"
)

// components are the long-lived collaborators a command opens.
type components struct {
	store   *db.Store
	reports *report.Builder
	redis   *redis.Client
	cache   *cache.CacheManager
}

func (c *components) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}

// openComponents opens the store, the report builder and, when enabled,
// the Redis cache. Store failures are store-stage errors.
func (a *app) openComponents(ctx context.Context) (*components, error) {
	store, err := db.Open(ctx, a.cfg.StoreConfig)
	if err != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageStore, Err: err}
	}
	c := &components{store: store}

	c.reports, err = report.NewBuilder(store, a.cfg.ReportConfig)
	if err != nil {
		c.Close()
		return nil, &pipeline.StageError{Stage: pipeline.StageReport, Err: err}
	}

	if a.cfg.RedisConfig.Enabled {
		client, err := cache.NewRedisClient(ctx, a.cfg.RedisConfig)
		if err != nil {
			// the cache only guards against double posts; run without it
			a.log.Warn("Redis unavailable, continuing without cache", "error", err)
		} else {
			c.redis = client
			c.cache = cache.NewCacheManager(cache.NewRedisCache(client, a.cfg.RedisConfig.Prefix))
		}
	}
	return c, nil
}

// newPipeline wires a pipeline on top of opened components.
func (a *app) newPipeline(c *components, dryRun bool) (*pipeline.Pipeline, error) {
	pub, err := publish.New(a.cfg.PublishConfig, a.stdout, dryRun)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	return pipeline.New(pipeline.Deps{
		Config:    a.cfg,
		Fetcher:   aviationstack.NewClient(a.cfg.AviationstackConfig, a.log),
		Archive:   archive.New(a.cfg.ArchiveConfig.Dir),
		Store:     c.store,
		Reports:   c.reports,
		Publisher: pub,
		Cache:     c.cache,
		Logger:    a.log,
	})
}
