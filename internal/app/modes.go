package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/server"
	"pricewatch/internal/server/handler"
	"pricewatch/internal/server/ws"
	"pricewatch/internal/service"
)

// ServeMode runs the full service: HTTP API, WebSocket hub, background check
// scheduler, and (when configured) the history archiver.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := newScheduler(a.cfg, deps, a.logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("serve mode: start scheduler: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		_ = sched.Stop()
		return ctx.Err()
	})

	a.startArchiver(ctx, g, deps)

	registry := service.NewRegistryService(
		deps.Entities,
		deps.Conditions,
		deps.States,
		deps.History,
		deps.Prices,
		deps.Resolver,
		a.logger,
	)

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(deps.DB, deps.Cache, a.logger),
			Entities:   handler.NewEntityHandler(registry, a.logger),
			Conditions: handler.NewConditionHandler(registry, a.logger),
			Monitor:    handler.NewMonitorHandler(sched, ctx, a.logger),
			Stats:      handler.NewStatsHandler(registry, sched, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// MonitorMode runs the check scheduler headless, without the HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := newScheduler(a.cfg, deps, a.logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("monitor mode: start scheduler: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		_ = sched.Stop()
		return ctx.Err()
	})

	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// CheckMode runs exactly one check cycle across all families and exits.
func (a *App) CheckMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting check mode")

	sched := newScheduler(a.cfg, deps, a.logger)
	summary, err := sched.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("check mode: %w", err)
	}

	a.logger.InfoContext(ctx, "check complete",
		slog.Int64("checked", summary.Checked),
		slog.Int64("succeeded", summary.Succeeded),
		slog.Int64("failed", summary.Failed),
		slog.Int64("newly_triggered", summary.NewlyTriggered),
	)
	return nil
}

// startArchiver launches the periodic history archiver when S3 is configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
	g.Go(func() error {
		deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, retention)
		return ctx.Err()
	})
}
