package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// EventSource is a readable event log.
type EventSource interface {
	Recent(n int) []domain.Event
	Since(after uint64, limit int) []domain.Event
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventsHandler serves the in-memory event logs of the running components.
type EventsHandler struct {
	sources map[string]EventSource
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler over named logs.
func NewEventsHandler(sources map[string]EventSource, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{sources: sources, logger: logger}
}

// ListEvents returns recent events. With source set it reads one log and
// honours after as a sequence cursor; otherwise logs are merged by time.
// GET /api/events?source=position&after=12&limit=50
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultEventLimit, maxEventLimit)
	q := r.URL.Query()

	if name := q.Get("source"); name != "" {
		src, ok := h.sources[name]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown event source "+strconv.Quote(name))
			return
		}
		var events []domain.Event
		if v := q.Get("after"); v != "" {
			after, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "after must be a sequence number")
				return
			}
			events = src.Since(after, limit)
		} else {
			events = src.Recent(limit)
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(events)})
		return
	}

	var merged []domain.Event
	for _, src := range h.sources {
		merged = append(merged, src.Recent(limit)...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].At.Equal(merged[j].At) {
			if merged[i].Source == merged[j].Source {
				return merged[i].Seq < merged[j].Seq
			}
			return merged[i].Source < merged[j].Source
		}
		return merged[i].At.Before(merged[j].At)
	})
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(merged)})
}

func nonNil(events []domain.Event) []domain.Event {
	if events == nil {
		return []domain.Event{}
	}
	return events
}
