// Package app runs levfarm: it wires the enabled infrastructure, builds the
// engine for the configured mode and supervises the long-lived goroutines
// until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/levfarm/internal/config"
)

// modeFunc runs one engine mode to completion.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"paper":   (*App).PaperMode,
	"monitor": (*App).MonitorMode,
}

// App owns the configuration, the root logger and the teardown of whatever
// Wire opened.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	cleanup   func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run blocks in the configured mode until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.App.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.App.Mode)
	}
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.App.Mode),
		slog.String("position", a.cfg.Position.ID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.cleanup = cleanup
	return run(a, ctx, deps)
}

// Close releases the wired infrastructure. Later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("app: shutting down")
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
