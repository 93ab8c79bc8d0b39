package domain

import (
	"context"
	"io"
	"time"
)

// Archive kinds, one per pruned table.
const (
	ArchiveKindSnapshots = "price_snapshots"
	ArchiveKindAudit     = "audit_log"
)

// ArchiveObject describes one compressed JSONL file in cold storage. Day is
// the retention cutoff day the file was cut at.
type ArchiveObject struct {
	Key      string    `json:"key"`
	Kind     string    `json:"kind"`
	Day      time.Time `json:"day"`
	Rows     int64     `json:"rows"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

// ArchiveStore keeps archive files in object storage. StatArchive returns
// ErrNotFound for a missing key; OpenArchive yields the decompressed JSONL.
type ArchiveStore interface {
	PutArchive(ctx context.Context, obj ArchiveObject, jsonl []byte) error
	StatArchive(ctx context.Context, key string) (ArchiveObject, error)
	OpenArchive(ctx context.Context, key string) (io.ReadCloser, error)
	ListArchives(ctx context.Context, kind string) ([]ArchiveObject, error)
}

// Archiver moves old snapshot and audit rows from the database to cold
// storage.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	Archives(ctx context.Context, kind string) ([]ArchiveObject, error)
}
