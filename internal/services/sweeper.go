package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
)

const sweepBatchSize = 100

type SweeperConfig struct {
	StuckAfter time.Duration
	// UploadDir is where abandoned temp files may still sit.
	UploadDir string
}

// ActiveJobs is implemented by jobs.Dispatcher.
type ActiveJobs interface {
	InFlight(uploadID string) bool
	Stats() (queued, running int)
}

// SweeperFunction fails records that have sat in processing without any
// write for longer than StuckAfter, e.g. after a crash mid-pipeline.
type SweeperFunction struct {
	store  records.Store
	active ActiveJobs
	config SweeperConfig
	now    func() time.Time
}

// NewSweeper builds a sweeper. active may be nil when the sweep runs outside
// the process that executes pipeline jobs.
func NewSweeper(store records.Store, active ActiveJobs, config SweeperConfig) (*SweeperFunction, error) {
	if store == nil {
		return nil, Wrap(ErrConfiguration, "sweep", "init", "store is required", nil)
	}
	if config.StuckAfter <= 0 {
		return nil, Wrap(ErrConfiguration, "sweep", "init", "stuck-after duration must be positive", nil)
	}
	return &SweeperFunction{store: store, active: active, config: config, now: time.Now}, nil
}

// Process marks every stuck record failed and returns how many it changed.
func (f *SweeperFunction) Process(ctx context.Context) (int, error) {
	before := f.now().Add(-f.config.StuckAfter)
	logCtx := slog.With("before", before.UTC().Format(time.RFC3339))

	stuck, err := f.store.ListStuck(ctx, before, sweepBatchSize)
	if err != nil {
		return 0, Wrap(ErrStorage, "sweep", "list stuck records", "", err)
	}
	if len(stuck) == 0 {
		logCtx.Debug("No stuck records.")
		return 0, nil
	}

	details := fmt.Sprintf("abandoned: no progress within %s", f.config.StuckAfter)
	var errs []error
	swept, skipped := 0, 0
	for _, rec := range stuck {
		if f.active != nil && f.active.InFlight(rec.ID) {
			// A long stage such as transcription writes nothing until it ends.
			skipped++
			continue
		}
		f.removeLocalSource(logCtx, rec)
		err := f.store.Finish(ctx, rec.ID, models.StatusFailed, records.Patch{ErrorDetails: &details})
		switch {
		case err == nil:
			swept++
			logCtx.Warn("Marked stuck record as failed.", "uploadId", rec.ID, "lastUpdate", rec.UpdatedAt)
		case errors.Is(err, records.ErrTerminal), errors.Is(err, records.ErrNotFound):
			// Finished or removed since it was listed.
		default:
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
		}
	}
	if f.active != nil {
		queued, running := f.active.Stats()
		logCtx = logCtx.With("queued", queued, "running", running)
	}
	logCtx.Info("Sweep complete.", "found", len(stuck), "swept", swept, "stillRunning", skipped)
	if len(errs) > 0 {
		return swept, Wrap(ErrStorage, "sweep", "finish records", "", errors.Join(errs...))
	}
	return swept, nil
}

// removeLocalSource deletes the raw upload when the record still points at
// a file inside the upload directory.
func (f *SweeperFunction) removeLocalSource(logCtx *slog.Logger, rec *models.UploadRecord) {
	if f.config.UploadDir == "" || rec.SourceLink == "" || strings.Contains(rec.SourceLink, "://") {
		return
	}
	rel, err := filepath.Rel(f.config.UploadDir, rec.SourceLink)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	removeFile(logCtx.With("uploadId", rec.ID), rec.SourceLink)
}
