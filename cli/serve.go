package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/vykuang/mh-flight-logs/api"
	"github.com/vykuang/mh-flight-logs/pkg/buildinfo"
	"github.com/vykuang/mh-flight-logs/pkg/health"
	"github.com/vykuang/mh-flight-logs/worker"
)

func (a *app) serveCommand() *cobra.Command {
	var (
		addr       string
		noSchedule bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API and run the pipeline daily on the configured schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = ":" + a.cfg.HTTPConfig.Port
			}
			return a.serve(cmd.Context(), addr, !noSchedule, dryRun)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API only")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print scheduled reports instead of posting them")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, schedule, dryRun bool) error {
	c, err := a.openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	hc := health.NewHealthChecker(buildinfo.Version)
	hc.AddChecker(&health.StoreChecker{DB: c.store.DB(), Name: "store"})
	if c.redis != nil {
		hc.AddChecker(&health.RedisChecker{Client: c.redis, Name: "redis"})
	}
	deps := api.Deps{Reports: c.reports, Cache: c.cache, Health: hc, Logger: a.log}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if schedule {
		p, err := a.newPipeline(c, dryRun)
		if err != nil {
			return err
		}
		sched, err := worker.NewScheduler(p, a.cfg.ScheduleConfig, a.log)
		if err != nil {
			return err
		}
		hc.AddChecker(&health.SchedulerChecker{Scheduler: sched, Name: "scheduler"})
		deps.Schedule = sched

		if c.redis != nil {
			le := worker.NewLeaderElector(c.redis, worker.DefaultLeaderConfig(a.cfg.RedisConfig.Prefix), sched, a.log)
			done := make(chan struct{})
			go func() {
				defer close(done)
				le.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()
		} else {
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()
		}
	}

	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Server starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
