package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// snapshotRecord is the archived form of a price snapshot. The virtual price
// stays a decimal string so WAD precision survives.
type snapshotRecord struct {
	Pool         string    `json:"pool"`
	Timestamp    time.Time `json:"ts"`
	VirtualPrice string    `json:"virtualPrice"`
}

// Archive implements domain.Archiver. Rows older than the cutoff are written
// to one archive object per run and pruned only after the stored object
// reports the same row count.
type Archive struct {
	store     domain.ArchiveStore
	snapshots domain.SnapshotStore
	audit     domain.AuditStore
	logger    *slog.Logger
	newRun    func() string
}

var _ domain.Archiver = (*Archive)(nil)

// NewArchiver creates an Archive over store.
func NewArchiver(store domain.ArchiveStore, snapshots domain.SnapshotStore, audit domain.AuditStore, logger *slog.Logger) *Archive {
	return &Archive{
		store:     store,
		snapshots: snapshots,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		newRun:    uuid.NewString,
	}
}

// ArchiveSnapshots moves price snapshots older than before into cold
// storage and returns the number of rows pruned.
func (a *Archive) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	records := make([]snapshotRecord, len(snaps))
	for i, s := range snaps {
		vp := "0"
		if s.VirtualPrice != nil {
			vp = s.VirtualPrice.String()
		}
		records[i] = snapshotRecord{Pool: s.Pool.Hex(), Timestamp: s.Timestamp.UTC(), VirtualPrice: vp}
	}
	obj, err := put(ctx, a, domain.ArchiveKindSnapshots, before, records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}

	deleted, err := a.snapshots.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: prune: %w", err)
	}
	a.record(ctx, obj, before)
	return deleted, nil
}

// ArchiveAudit moves audit entries older than before into cold storage. The
// run's own audit row is written after pruning, so the next run picks it up.
func (a *Archive) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	obj, err := put(ctx, a, domain.ArchiveKindAudit, before, entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}
	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: prune: %w", err)
	}
	a.record(ctx, obj, before)
	return deleted, nil
}

// Archives lists the stored archives of kind, oldest first.
func (a *Archive) Archives(ctx context.Context, kind string) ([]domain.ArchiveObject, error) {
	objs, err := a.store.ListArchives(ctx, kind)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(objs, func(i, j int) bool {
		if !objs[i].Day.Equal(objs[j].Day) {
			return objs[i].Day.Before(objs[j].Day)
		}
		if !objs[i].StoredAt.Equal(objs[j].StoredAt) {
			return objs[i].StoredAt.Before(objs[j].StoredAt)
		}
		return objs[i].Key < objs[j].Key
	})
	return objs, nil
}

// put uploads records as one archive object and confirms the store holds
// all of them before the caller prunes.
func put[T any](ctx context.Context, a *Archive, kind string, before time.Time, records []T) (domain.ArchiveObject, error) {
	body, err := marshalJSONL(records)
	if err != nil {
		return domain.ArchiveObject{}, err
	}
	day := before.UTC().Truncate(24 * time.Hour)
	obj := domain.ArchiveObject{
		Key:  archiveKey(kind, day, a.newRun()),
		Kind: kind,
		Day:  day,
		Rows: int64(len(records)),
	}
	if err := a.store.PutArchive(ctx, obj, body); err != nil {
		return domain.ArchiveObject{}, err
	}

	stored, err := a.store.StatArchive(ctx, obj.Key)
	if err != nil {
		return domain.ArchiveObject{}, fmt.Errorf("verify %s: %w", obj.Key, err)
	}
	if stored.Rows != obj.Rows {
		return domain.ArchiveObject{}, fmt.Errorf("verify %s: stored %d rows, wrote %d", obj.Key, stored.Rows, obj.Rows)
	}
	return stored, nil
}

func (a *Archive) record(ctx context.Context, obj domain.ArchiveObject, before time.Time) {
	a.logger.InfoContext(ctx, "archiver: archived",
		slog.String("kind", obj.Kind),
		slog.String("key", obj.Key),
		slog.Int64("rows", obj.Rows),
		slog.Int64("bytes", obj.Size),
	)
	if err := a.audit.Log(ctx, "archive."+obj.Kind, map[string]any{
		"key":    obj.Key,
		"rows":   obj.Rows,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.WarnContext(ctx, "archiver: audit log failed",
			slog.String("key", obj.Key),
			slog.String("error", err.Error()),
		)
	}
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
