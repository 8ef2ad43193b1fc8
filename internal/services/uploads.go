package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Lllllllleong/accessiblelessons/internal/auth"
	"github.com/Lllllllleong/accessiblelessons/internal/jobs"
	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
)

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Enqueuer is implemented by jobs.Dispatcher.
type Enqueuer interface {
	Enqueue(job jobs.Job) error
}

type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

// UploadFunction accepts a lesson file, records it as processing and hands
// it to the job queue. It returns before any processing starts.
type UploadFunction struct {
	store  records.Store
	queue  Enqueuer
	config UploadConfig
	newID  func() string
}

func NewUpload(store records.Store, queue Enqueuer, config UploadConfig) (*UploadFunction, error) {
	if store == nil || queue == nil {
		return nil, Wrap(ErrConfiguration, "upload", "init", "store and queue are required", nil)
	}
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, Wrap(ErrConfiguration, "upload", "init", "upload directory unusable", err)
	}
	return &UploadFunction{store: store, queue: queue, config: config, newID: uuid.NewString}, nil
}

func (f *UploadFunction) Process(ctx context.Context, caller auth.Caller, filename string, content io.Reader) (*models.UploadResponse, error) {
	if !caller.CanUpload() {
		return nil, ErrForbidden
	}
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return nil, Wrap(ErrValidation, "upload", "", "file name is required", nil)
	}

	id := f.newID()
	logCtx := slog.With("uploadId", id, "ownerId", caller.UserID, "originalName", name)
	localPath := filepath.Join(f.config.Dir, id+models.Extension(name))

	size, err := f.writeTemp(localPath, content)
	if err != nil {
		logCtx.Error("Failed to store upload locally.", "error", err)
		return nil, err
	}

	rec := &models.UploadRecord{
		ID:           id,
		OwnerID:      caller.UserID,
		OriginalName: name,
		Category:     models.ClassifyFile(name),
		SourceLink:   localPath,
		Status:       models.StatusProcessing,
	}
	if err := f.store.Create(ctx, rec); err != nil {
		removeFile(logCtx, localPath)
		return nil, Wrap(ErrStorage, "upload", "create record", "", err)
	}

	job := jobs.Job{
		UploadID:     id,
		OwnerID:      caller.UserID,
		OriginalName: name,
		LocalPath:    localPath,
		Category:     rec.Category,
	}
	if err := f.queue.Enqueue(job); err != nil {
		f.reject(ctx, logCtx, rec, err)
		return nil, fmt.Errorf("failed to queue upload %s: %w", id, err)
	}
	logCtx.Info("Upload accepted.", "category", rec.Category, "bytes", size)

	return &models.UploadResponse{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		OriginalName: rec.OriginalName,
		Category:     rec.Category,
		SourceLink:   rec.SourceLink,
		Status:       rec.Status,
	}, nil
}

// writeTemp copies content to path, enforcing the size limit.
func (f *UploadFunction) writeTemp(path string, content io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, Wrap(ErrStorage, "upload", "create temp file", "", err)
	}
	reader := content
	if f.config.MaxBytes > 0 {
		reader = io.LimitReader(content, f.config.MaxBytes+1)
	}
	n, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, Wrap(ErrStorage, "upload", "write temp file", "", err)
	}
	if f.config.MaxBytes > 0 && n > f.config.MaxBytes {
		_ = os.Remove(path)
		return 0, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, f.config.MaxBytes)
	}
	return n, nil
}

// reject fails a record whose job could not be queued.
func (f *UploadFunction) reject(ctx context.Context, logCtx *slog.Logger, rec *models.UploadRecord, cause error) {
	removeFile(logCtx, rec.SourceLink)
	details := "not queued: " + cause.Error()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultFinalWriteTimeout)
	defer cancel()
	if err := f.store.Finish(writeCtx, rec.ID, models.StatusFailed, records.Patch{ErrorDetails: &details}); err != nil {
		logCtx.Error("CRITICAL: Failed to mark unqueued upload as failed.", "updateError", err)
	}
	logCtx.Warn("Upload rejected by job queue.", "error", cause)
}
