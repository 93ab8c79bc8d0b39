package oracle

import (
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// history is a fixed-size ring of snapshots for one pool, oldest first.
type history struct {
	buf   []domain.PriceSnapshot
	start int
	n     int
}

func newHistory(size int) *history {
	if size < 2 {
		size = 2
	}
	return &history{buf: make([]domain.PriceSnapshot, size)}
}

// push appends s, overwriting the oldest entry when full.
func (h *history) push(s domain.PriceSnapshot) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

func (h *history) at(i int) domain.PriceSnapshot {
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *history) latest() (domain.PriceSnapshot, bool) {
	if h.n == 0 {
		return domain.PriceSnapshot{}, false
	}
	return h.at(h.n - 1), true
}

// earliestWithin returns the oldest snapshot with a timestamp in
// [later - window, later).
func (h *history) earliestWithin(later time.Time, window time.Duration) (domain.PriceSnapshot, bool) {
	from := later.Add(-window)
	for i := 0; i < h.n; i++ {
		s := h.at(i)
		if !s.Timestamp.Before(from) && s.Timestamp.Before(later) {
			return s, true
		}
	}
	return domain.PriceSnapshot{}, false
}

func (h *history) snapshots() []domain.PriceSnapshot {
	out := make([]domain.PriceSnapshot, h.n)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}
