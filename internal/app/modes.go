package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/levfarm/internal/cache/redis"
	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/oracle"
	"github.com/alanyoungcy/levfarm/internal/server"
	"github.com/alanyoungcy/levfarm/internal/server/handler"
	"github.com/alanyoungcy/levfarm/internal/server/ws"
	"github.com/alanyoungcy/levfarm/internal/service"
)

// PaperMode runs the full engine against the simulated chain: market drift,
// the scheduled automation agent, the event side channels and the API.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting paper mode")

	engine, err := BuildPaperEngine(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logPersistedState(ctx, deps, engine.Manager.ID())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := engine.Drift.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sim drift: %w", err)
		}
		return nil
	})

	if err := a.startAgent(ctx, g, deps, engine.Agent); err != nil {
		return err
	}
	a.startSideChannels(ctx, g, deps, engine.Logs)
	a.startHTTPServer(ctx, g, deps, engine.Logs, server.Handlers{
		Position: handler.NewPositionHandler(engine.Manager, a.logger),
		Oracle:   handler.NewOracleHandler(engine.Agent, a.logger),
		Quote:    handler.NewQuoteHandler(engine.Manager, a.logger),
	}, engine.Manager.ID())

	return g.Wait()
}

// MonitorMode samples live pool virtual prices read-only and serves APY
// estimates and router quotes. No position is driven.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode")

	engine, err := BuildMonitorEngine(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	defer engine.Client.Close()

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startAgent(ctx, g, deps, engine.Agent); err != nil {
		return err
	}
	a.startSideChannels(ctx, g, deps, engine.Logs)
	a.startHTTPServer(ctx, g, deps, engine.Logs, server.Handlers{
		Oracle: handler.NewOracleHandler(engine.Agent, a.logger),
		Quote:  handler.NewQuoteHandler(engine.Router, a.logger),
	}, "")

	return g.Wait()
}

// startAgent restores the agent's history and schedules its pings.
func (a *App) startAgent(ctx context.Context, g *errgroup.Group, deps *Dependencies, agent *oracle.Agent) error {
	if err := agent.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "app: restore oracle history failed", slog.String("error", err.Error()))
	}
	if !a.cfg.Oracle.Enabled {
		return nil
	}
	sched, err := oracle.NewScheduler(agent, a.cfg.Oracle.PingSchedule, deps.LockManager, lockTTL(a.cfg), a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	g.Go(func() error {
		return sched.Run(ctx)
	})
	return nil
}

// startSideChannels subscribes the event fan-out to every log and starts
// the archive job when cold storage is wired.
func (a *App) startSideChannels(ctx context.Context, g *errgroup.Group, deps *Dependencies, logs map[string]*eventlog.Log) {
	fcfg := service.FanoutConfig{
		Audit:     deps.AuditStore,
		Positions: deps.PositionStore,
	}
	if deps.SignalBus != nil {
		fcfg.Publisher = deps.SignalBus
	}
	if deps.Notifier.Enabled() {
		fcfg.Notifier = deps.Notifier
	}
	if fcfg.Audit != nil || fcfg.Positions != nil || fcfg.Publisher != nil || fcfg.Notifier != nil {
		fanout := service.NewEventFanout(fcfg, a.logger)
		for _, l := range logs {
			l.Subscribe(fanout)
		}
		g.Go(func() error {
			return fanout.Run(ctx)
		})
	}

	if !a.cfg.Archive.Enabled {
		return
	}
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "app: archive enabled but postgres or s3 is not wired")
		return
	}
	job, err := service.NewArchiveJob(deps.Archiver, a.cfg.Archive.Schedule, a.cfg.Archive.Retention.Duration,
		deps.LockManager, lockTTL(a.cfg), a.logger)
	if err != nil {
		a.logger.WarnContext(ctx, "app: archive job disabled", slog.String("error", err.Error()))
		return
	}
	g.Go(func() error {
		return job.Run(ctx)
	})
}

// startHTTPServer adds the API server and websocket hub to g. With a signal
// bus the hub relays bus events, so every replica's events reach every
// client; otherwise it observes the local logs directly.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, logs map[string]*eventlog.Log, handlers server.Handlers, positionID string) {
	if !a.cfg.Server.Enabled {
		return
	}

	var bus domain.SignalBus
	if deps.SignalBus != nil {
		bus = deps.SignalBus
	}
	hub := ws.NewHub(bus, a.logger, ws.Config{
		Mode:         a.cfg.App.Mode,
		PositionID:   positionID,
		StartedAt:    time.Now().UTC(),
		Channels:     []string{redis.EventChannelPattern},
		ReplayStream: redis.EventStream,
	})
	if bus == nil {
		for _, l := range logs {
			l.Subscribe(hub)
		}
	}
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	sources := make(map[string]handler.EventSource, len(logs))
	for name, l := range logs {
		sources[name] = l
	}
	handlers.Health = handler.NewHealthHandler(a.cfg.App.Mode, deps.Checks, a.logger)
	handlers.Events = handler.NewEventsHandler(sources, a.logger)
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchivesHandler(deps.Archiver, a.logger)
	}

	var limiter domain.RateLimiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		PingLimit:   a.cfg.Server.PingRateLimit,
		PingWindow:  a.cfg.Server.PingRateWindow.Duration,
	}, handlers, hub, limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// logPersistedState reports the position state left by a previous run.
func (a *App) logPersistedState(ctx context.Context, deps *Dependencies, positionID string) {
	if deps.PositionStore == nil {
		return
	}
	st, err := deps.PositionStore.Get(ctx, positionID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		a.logger.WarnContext(ctx, "app: load persisted position failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "app: previous position state",
		slog.String("position", st.PositionID),
		slog.String("state", string(st.State)),
		slog.String("ltv", st.LTV.String()),
		slog.String("debt", st.DebtAmount.String()),
		slog.Time("updated_at", st.UpdatedAt),
	)
}
