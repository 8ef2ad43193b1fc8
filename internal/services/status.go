package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/accessiblelessons/internal/auth"
	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
)

type StatusFunction struct {
	store records.Store
}

func NewStatus(store records.Store) *StatusFunction {
	return &StatusFunction{store: store}
}

// Process returns the coarse status of one record. It never writes.
func (f *StatusFunction) Process(ctx context.Context, caller auth.Caller, id string) (*models.StatusResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, Wrap(ErrValidation, "status", "", "id is required", nil)
	}
	rec, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	if !caller.CanView(rec.OwnerID) {
		slog.Warn("Status request denied.", "uploadId", id, "userId", caller.UserID, "role", caller.Role)
		return nil, ErrForbidden
	}
	return &models.StatusResponse{
		ID:      rec.ID,
		Status:  rec.Status,
		Message: models.StatusMessage(rec.Status),
	}, nil
}
