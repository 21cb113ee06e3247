package files

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CleanupJobStore nulls result_files on aged jobs and reports which jobs
// were affected.
type CleanupJobStore interface {
	ClearResultFiles(ctx context.Context, finishedBefore time.Time) ([]uuid.UUID, error)
}

// Cleaner expires stored job files past the retention window: the database
// reference goes first, then the backing directory.
type Cleaner struct {
	store     *Store
	jobs      CleanupJobStore
	retention time.Duration
	log       *slog.Logger
}

func NewCleaner(store *Store, jobs CleanupJobStore, retention time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{store: store, jobs: jobs, retention: retention, log: log}
}

// Run sweeps on the given interval until ctx is canceled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sweep(ctx); err != nil {
				c.log.Error("file cleanup sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes files for jobs finished before the retention cutoff.
func (c *Cleaner) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retention)
	ids, err := c.jobs.ClearResultFiles(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.store.RemoveJobFiles(id); err != nil {
			c.log.Warn("remove job files failed", "job_id", id, "error", err)
			continue
		}
		c.log.Info("expired job files removed", "job_id", id)
	}
	return nil
}
