package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/robfig/cron/v3"
)

// PingLockKey is the distributed lock taken around each scheduled ping.
const PingLockKey = "oracle:ping"

// Scheduler runs Agent.Ping on a cron schedule. When a LockManager is set,
// each tick first takes PingLockKey so only one replica pings.
type Scheduler struct {
	agent   *Agent
	cron    *cron.Cron
	spec    string
	locks   domain.LockManager
	lockTTL time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler validates spec (standard five-field cron syntax, or
// descriptors such as "@every 5m") and returns a stopped scheduler.
func NewScheduler(agent *Agent, spec string, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("oracle: scheduler: parse %q: %w", spec, err)
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Scheduler{
		agent:   agent,
		cron:    cron.New(),
		spec:    spec,
		locks:   locks,
		lockTTL: lockTTL,
		timeout: lockTTL,
		logger:  logger.With(slog.String("component", "oracle_scheduler")),
	}, nil
}

// Run starts the cron loop and blocks until ctx is cancelled. Running jobs
// are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("oracle: scheduler: %w", err)
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "oracle_scheduler: started", slog.String("schedule", s.spec))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.InfoContext(ctx, "oracle_scheduler: stopped")
	return nil
}

// Tick performs one scheduled ping. Lock contention and ping failures are
// logged, never returned: the next tick simply tries again.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, PingLockKey, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "oracle_scheduler: ping lock held elsewhere")
			return
		}
		if err != nil {
			s.logger.WarnContext(ctx, "oracle_scheduler: acquire lock failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	if !s.agent.Initialized() {
		if err := s.agent.SetInitialValues(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
			s.logger.WarnContext(ctx, "oracle_scheduler: initialize failed", slog.String("error", err.Error()))
		}
		return
	}

	res, err := s.agent.Ping(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "oracle_scheduler: ping failed", slog.String("error", err.Error()))
		return
	}
	if res.Sampled {
		attrs := []any{slog.Bool("state_changed", res.Transition.Changed)}
		if res.Transition.Changed {
			attrs = append(attrs, slog.String("reason", res.Transition.Reason))
		}
		if res.Harvest != nil {
			attrs = append(attrs, slog.String("harvested", res.Harvest.Claimed.String()))
		}
		s.logger.InfoContext(ctx, "oracle_scheduler: pinged", attrs...)
	}
}
