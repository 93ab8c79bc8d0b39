package eventlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	l := New("test", 0, discardLogger())
	got := l.Append(context.Background(),
		domain.Event{Kind: domain.EventAssetDeposited},
		domain.Event{Kind: domain.EventMaxLTVModified},
	)
	got = append(got, l.Append(context.Background(), domain.Event{Kind: domain.EventHarvested})...)

	require.Len(t, got, 3)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.NotEmpty(t, ev.ID)
		assert.Equal(t, "test", ev.Source)
		assert.False(t, ev.At.IsZero())
	}
	assert.Equal(t, uint64(3), l.LastSeq())
}

func TestSinksSeeEventsInOrderAndFailuresAreIsolated(t *testing.T) {
	l := New("test", 0, discardLogger())

	var seen []uint64
	l.Subscribe(domain.EventSinkFunc(func(context.Context, domain.Event) error {
		return errors.New("boom")
	}))
	l.Subscribe(domain.EventSinkFunc(func(_ context.Context, ev domain.Event) error {
		seen = append(seen, ev.Seq)
		return nil
	}))

	l.Append(context.Background(), domain.Event{Kind: domain.EventAssetDeposited}, domain.Event{Kind: domain.EventHarvested})
	assert.Equal(t, []uint64{1, 2}, seen)
	assert.Len(t, l.Recent(0), 2)
}

func TestCapacityBoundsRetention(t *testing.T) {
	l := New("test", 2, discardLogger())
	for i := 0; i < 5; i++ {
		l.Append(context.Background(), domain.Event{Kind: domain.EventHarvested})
	}
	recent := l.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].Seq)
	assert.Equal(t, uint64(5), recent[1].Seq)

	assert.Len(t, l.Since(4, 0), 1)
	assert.Empty(t, l.Since(5, 0))
}

func TestFilterByKind(t *testing.T) {
	l := New("test", 0, discardLogger())
	l.Append(context.Background(),
		domain.Event{Kind: domain.EventAssetDeposited},
		domain.Event{Kind: domain.EventMaxLTVModified},
		domain.Event{Kind: domain.EventAssetDeposited},
	)
	assert.Len(t, l.Filter(domain.EventAssetDeposited), 2)
	assert.Len(t, l.Filter(domain.EventMaxLTVModified), 1)
}
