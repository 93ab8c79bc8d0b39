package domain

import (
	"context"
	"time"
)

// EventKind names a structured record emitted by the engine.
type EventKind string

const (
	EventAssetDeposited          EventKind = "AssetDeposited"
	EventFundsDeposited          EventKind = "FundsDeposited"
	EventFundsWithdrawn          EventKind = "FundsWithdrawn"
	EventMaxLTVModified          EventKind = "MaxLTVModified"
	EventPositionWithdrawn       EventKind = "PositionWithdrawn"
	EventHarvested               EventKind = "Harvested"
	EventDeleveraged             EventKind = "Deleveraged"
	EventStrategistAssigned      EventKind = "StrategistAssigned"
	EventBorrowThresholdModified EventKind = "BorrowThresholdModified"
	EventPriceSampled            EventKind = "PriceSampled"
)

// Event is one entry of an ordered, append-only event log. Seq is assigned
// by the log on append and is strictly increasing per log. Amounts inside
// Data are decimal strings.
type Event struct {
	Seq      uint64         `json:"seq"`
	ID       string         `json:"id"`
	Kind     EventKind      `json:"kind"`
	Source   string         `json:"source"`
	Data     map[string]any `json:"data"`
	Position *PositionState `json:"position,omitempty"`
	At       time.Time      `json:"at"`
}

// EventSink observes committed events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

// Publish calls f(ctx, ev).
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
