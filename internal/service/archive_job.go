package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

// ArchiveLockKey is the distributed lock taken around each archive run.
const ArchiveLockKey = "archive:run"

// ArchiveJob periodically moves price snapshots and audit rows older than
// the retention period to cold storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	cron      *cron.Cron
	spec      string
	retention time.Duration
	locks     domain.LockManager
	lockTTL   time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob validates spec and returns a stopped job. locks may be nil.
func NewArchiveJob(archiver domain.Archiver, spec string, retention time.Duration, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) (*ArchiveJob, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("archive_job: parse %q: %w", spec, err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("archive_job: retention must be positive, got %s", retention)
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &ArchiveJob{
		archiver:  archiver,
		cron:      cron.New(),
		spec:      spec,
		retention: retention,
		locks:     locks,
		lockTTL:   lockTTL,
		clock:     time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}, nil
}

// WithClock replaces the clock used to compute the cutoff.
func (j *ArchiveJob) WithClock(clock func() time.Time) *ArchiveJob {
	j.clock = clock
	return j
}

// Run starts the cron loop and blocks until ctx is cancelled.
func (j *ArchiveJob) Run(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.Tick(ctx) }); err != nil {
		return fmt.Errorf("archive_job: %w", err)
	}
	j.cron.Start()
	j.logger.InfoContext(ctx, "archive_job: started",
		slog.String("schedule", j.spec),
		slog.Duration("retention", j.retention),
	)

	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.InfoContext(ctx, "archive_job: stopped")
	return nil
}

// Tick archives everything older than the retention period. Both tables
// are attempted even if the first fails.
func (j *ArchiveJob) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, j.lockTTL)
	defer cancel()

	if j.locks != nil {
		unlock, err := j.locks.Acquire(ctx, ArchiveLockKey, j.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			j.logger.DebugContext(ctx, "archive_job: lock held elsewhere")
			return
		}
		if err != nil {
			j.logger.WarnContext(ctx, "archive_job: acquire lock failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	before := j.clock().UTC().Add(-j.retention)
	snaps, err := j.archiver.ArchiveSnapshots(ctx, before)
	if err != nil {
		j.logger.WarnContext(ctx, "archive_job: snapshots failed", slog.String("error", err.Error()))
	}
	audit, err := j.archiver.ArchiveAudit(ctx, before)
	if err != nil {
		j.logger.WarnContext(ctx, "archive_job: audit failed", slog.String("error", err.Error()))
	}
	j.logger.InfoContext(ctx, "archive_job: run complete",
		slog.Time("before", before),
		slog.Int64("snapshots", snaps),
		slog.Int64("audit_rows", audit),
	)
}
