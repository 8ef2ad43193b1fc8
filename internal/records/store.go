// Package records persists upload records. Every backend enforces the
// single-terminal-write rule itself: once a record is completed or failed,
// all further writes are rejected with ErrTerminal.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrTerminal      = errors.New("record already in a terminal state")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidStatus = errors.New("unknown record status")
)

// Store is the contract shared by the Firestore, Postgres and in-memory
// backends.
type Store interface {
	// Create inserts a new record. CreatedAt and UpdatedAt are set if zero.
	Create(ctx context.Context, rec *models.UploadRecord) error
	Get(ctx context.Context, id string) (*models.UploadRecord, error)
	// Update applies an additive patch to a record still in processing.
	Update(ctx context.Context, id string, patch Patch) error
	// Finish applies patch and moves the record to a terminal status.
	Finish(ctx context.Context, id string, status models.Status, patch Patch) error
	// ListStuck returns processing records not updated since before.
	ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.UploadRecord, error)
	Close() error
}

// Patch carries field updates. A nil field is left untouched; there is no way
// to clear a field once set.
type Patch struct {
	SourceLink        *string
	Transcript        *models.Transcript
	ExtractedText     *string
	AudioLink         *string
	BlindFriendlyLink *string
	DyslexiaFriendly  []models.Scene
	ErrorDetails      *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.SourceLink == nil && p.Transcript == nil && p.ExtractedText == nil &&
		p.AudioLink == nil && p.BlindFriendlyLink == nil && p.DyslexiaFriendly == nil &&
		p.ErrorDetails == nil
}

// Apply copies the set fields of p onto rec.
func (p Patch) Apply(rec *models.UploadRecord) {
	if p.SourceLink != nil {
		rec.SourceLink = *p.SourceLink
	}
	if p.Transcript != nil {
		t := *p.Transcript
		rec.Transcript = &t
	}
	if p.ExtractedText != nil {
		rec.ExtractedText = ptr(*p.ExtractedText)
	}
	if p.AudioLink != nil {
		rec.AudioLink = ptr(*p.AudioLink)
	}
	if p.BlindFriendlyLink != nil {
		rec.BlindFriendlyLink = ptr(*p.BlindFriendlyLink)
	}
	if p.DyslexiaFriendly != nil {
		rec.DyslexiaFriendly = append([]models.Scene(nil), p.DyslexiaFriendly...)
	}
	if p.ErrorDetails != nil {
		rec.ErrorDetails = *p.ErrorDetails
	}
}

// transition validates and applies a write to rec at time now. A zero status
// means a non-terminal update.
func transition(rec *models.UploadRecord, status models.Status, patch Patch, now time.Time) error {
	if rec.Status.Terminal() {
		return ErrTerminal
	}
	patch.Apply(rec)
	rec.UpdatedAt = now
	if status != "" {
		rec.Status = status
		rec.CompletedAt = &now
	}
	return nil
}

func validateStatus(id string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w %q on upload %s", ErrInvalidStatus, status, id)
	}
	return nil
}

func validateTerminal(status models.Status) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status, got " + string(status))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
