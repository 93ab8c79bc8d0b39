// Package service hosts the long-running side-channel workers that sit
// behind the engine: event fan-out to persistence, the bus and notifiers,
// and the cold-storage archive job.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// EventPublisher relays an event to other processes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// EventNotifier alerts operators about selected event kinds.
type EventNotifier interface {
	Wants(kind domain.EventKind) bool
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// FanoutConfig configures an EventFanout. Every side channel is optional.
type FanoutConfig struct {
	Audit     domain.AuditStore
	Positions domain.PositionStore
	Publisher EventPublisher
	Notifier  EventNotifier

	QueueSize int
	// Timeout bounds the side-channel work for a single event.
	Timeout time.Duration
}

// EventFanout observes committed engine events and forwards each to the
// audit log, the position state table, the signal bus and the notifier.
// Publish only enqueues, so a slow side channel never holds up the engine;
// the queue is drained by Run.
type EventFanout struct {
	cfg     FanoutConfig
	queue   chan domain.Event
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewEventFanout creates a stopped fan-out.
func NewEventFanout(cfg FanoutConfig, logger *slog.Logger) *EventFanout {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EventFanout{
		cfg:    cfg,
		queue:  make(chan domain.Event, cfg.QueueSize),
		logger: logger.With(slog.String("component", "event_fanout")),
	}
}

// Publish enqueues ev. A full queue drops the event and reports it.
func (f *EventFanout) Publish(_ context.Context, ev domain.Event) error {
	select {
	case f.queue <- ev:
		return nil
	default:
		f.dropped.Add(1)
		return fmt.Errorf("event_fanout: queue full, dropped %s #%d", ev.Kind, ev.Seq)
	}
}

// Dropped returns how many events were discarded on a full queue.
func (f *EventFanout) Dropped() int64 { return f.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left
// with a fresh deadline.
func (f *EventFanout) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "event_fanout: started")
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		case <-ctx.Done():
			f.drain()
			f.logger.Info("event_fanout: stopped")
			return nil
		}
	}
}

func (f *EventFanout) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
	defer cancel()
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		default:
			return
		}
	}
}

// deliver runs every side channel for ev. Failures are logged and never
// stop the remaining channels.
func (f *EventFanout) deliver(ctx context.Context, ev domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.Deliver(ctx, ev); err != nil {
		f.logger.WarnContext(ctx, "event_fanout: delivery incomplete",
			slog.String("kind", string(ev.Kind)),
			slog.String("source", ev.Source),
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
}

// Deliver synchronously forwards ev to every configured side channel and
// returns the joined failures.
func (f *EventFanout) Deliver(ctx context.Context, ev domain.Event) error {
	var errs []error
	if f.cfg.Audit != nil {
		if err := f.cfg.Audit.Log(ctx, string(ev.Kind), auditDetail(ev)); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if f.cfg.Positions != nil && ev.Position != nil {
		if err := f.cfg.Positions.Upsert(ctx, *ev.Position); err != nil {
			errs = append(errs, fmt.Errorf("position state: %w", err))
		}
	}
	if f.cfg.Publisher != nil {
		if err := f.cfg.Publisher.PublishEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("bus: %w", err))
		}
	}
	if f.cfg.Notifier != nil && f.cfg.Notifier.Wants(ev.Kind) {
		if err := f.cfg.Notifier.NotifyEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

// auditDetail flattens the event envelope into the audit row's detail.
func auditDetail(ev domain.Event) map[string]any {
	detail := make(map[string]any, len(ev.Data)+4)
	for k, v := range ev.Data {
		detail[k] = v
	}
	detail["event_id"] = ev.ID
	detail["source"] = ev.Source
	detail["seq"] = ev.Seq
	detail["at"] = ev.At.UTC().Format(time.RFC3339Nano)
	return detail
}

var _ domain.EventSink = (*EventFanout)(nil)
