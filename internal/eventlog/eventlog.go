// Package eventlog provides an ordered, append-only log of domain events
// with synchronous observer notification.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/google/uuid"
)

// DefaultCapacity bounds the number of events retained in memory.
const DefaultCapacity = 4096

// Log is an ordered event log. Sequence numbers are assigned on Append and
// never reused. Only the most recent Capacity events are retained; sinks
// see every event.
type Log struct {
	mu       sync.Mutex
	source   string
	seq      uint64
	capacity int
	entries  []domain.Event
	sinks    []domain.EventSink
	clock    func() time.Time
	logger   *slog.Logger
}

// New creates a log whose events are tagged with source.
func New(source string, capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		source:   source,
		capacity: capacity,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "eventlog"), slog.String("source", source)),
	}
}

// WithClock overrides the timestamp source for events that carry none.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
	return l
}

// Subscribe registers an observer. Observers are called in registration
// order while the log lock is held, so they see events in sequence order.
func (l *Log) Subscribe(sink domain.EventSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Append stamps and records events, then notifies observers. A failing
// observer is logged and does not affect the log or other observers.
func (l *Log) Append(ctx context.Context, events ...domain.Event) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		l.seq++
		ev.Seq = l.seq
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.Source == "" {
			ev.Source = l.source
		}
		if ev.At.IsZero() {
			ev.At = l.clock().UTC()
		}
		l.entries = append(l.entries, ev)
		out = append(out, ev)
	}
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append([]domain.Event(nil), l.entries[over:]...)
	}

	for _, ev := range out {
		for _, sink := range l.sinks {
			if err := sink.Publish(ctx, ev); err != nil {
				l.logger.WarnContext(ctx, "eventlog: sink publish failed",
					slog.String("kind", string(ev.Kind)),
					slog.Uint64("seq", ev.Seq),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return out
}

// Since returns up to limit retained events with Seq > after, oldest
// first. A non-positive limit returns all of them.
func (l *Log) Since(after uint64, limit int) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Event
	for _, ev := range l.entries {
		if ev.Seq <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Recent returns the last n retained events, oldest first.
func (l *Log) Recent(n int) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]domain.Event(nil), l.entries[len(l.entries)-n:]...)
}

// Filter returns retained events of the given kind, oldest first.
func (l *Log) Filter(kind domain.EventKind) []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, ev := range l.entries {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the sequence number of the latest event.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
