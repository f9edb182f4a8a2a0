// Command stagehandd runs the stage-pipeline coordination server: the
// transactional store, in-process event bus and queue manager, worker
// supervisor, outcome dispatcher and HTTP/SSE transport, wired together at
// startup and torn down on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stagehand-run/stagehand/agentproc"
	"github.com/stagehand-run/stagehand/claims"
	"github.com/stagehand-run/stagehand/dispatcher"
	"github.com/stagehand-run/stagehand/eventbus"
	"github.com/stagehand-run/stagehand/internal/config"
	"github.com/stagehand-run/stagehand/internal/web"
	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/queue"
	"github.com/stagehand-run/stagehand/reconcile"
	"github.com/stagehand-run/stagehand/store/sqlitestore"
	"github.com/stagehand-run/stagehand/supervisor"
	"github.com/stagehand-run/stagehand/toolsurface"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("stagehandd: fatal", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	met := metrics.New(prometheus.DefaultRegisterer)

	bus := eventbus.New(met)
	q := queue.New(met)
	claimer := claims.New(st, met)
	disp := dispatcher.New(st, bus, q, met, log)

	spawner := agentproc.New(log)
	resolver := config.NewStoreResolver(st, cfg)
	sup := supervisor.New(st, q, bus, disp, spawner, resolver, met, time.Duration(cfg.WorkerTimeout), log)

	surface := toolsurface.New(st, bus, q, claimer, sup, met, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("stagehandd: shutdown signal received")
		cancel()
	}()

	go disp.Run(ctx)

	startupReconciler := reconcile.New(st, q, sup, log)
	if err := startupReconciler.Run(ctx); err != nil {
		log.Error("stagehandd: startup reconcile sweep failed", zap.Error(err))
	}

	scheduler := reconcile.NewScheduler(st, q, sup, log)
	if err := scheduler.Start(ctx, cfg.ReconcileCron); err != nil {
		return fmt.Errorf("start reconcile scheduler: %w", err)
	}
	defer scheduler.Stop()

	srv := web.New(surface, bus, cfg.AuthToken, log)

	log.Info("stagehandd: starting", zap.String("addr", cfg.BindAddr), zap.String("db", cfg.DBPath))
	if err := srv.Start(ctx, cfg.BindAddr); err != nil {
		return fmt.Errorf("web server: %w", err)
	}

	disp.Wait()
	log.Info("stagehandd: stopped")
	return nil
}
