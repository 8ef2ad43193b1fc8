package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
)

func TestSweeperFailsStuckRecords(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	stalePath := filepath.Join(dir, "stale.mp4")
	require.NoError(t, os.WriteFile(stalePath, []byte("video"), 0o600))
	outside := filepath.Join(t.TempDir(), "elsewhere.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("video"), 0o600))

	for _, rec := range []*models.UploadRecord{
		{ID: "stale", SourceLink: stalePath, Status: models.StatusProcessing, UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "stale-remote", SourceLink: "https://cdn.example.com/a.mp4", Status: models.StatusProcessing, UpdatedAt: now.Add(-5 * time.Hour)},
		{ID: "stale-outside", SourceLink: outside, Status: models.StatusProcessing, UpdatedAt: now.Add(-4 * time.Hour)},
		{ID: "fresh", Status: models.StatusProcessing, UpdatedAt: now.Add(-10 * time.Minute)},
	} {
		require.NoError(t, store.Create(ctx, rec))
	}
	require.NoError(t, store.Create(ctx, &models.UploadRecord{ID: "done", Status: models.StatusProcessing, UpdatedAt: now.Add(-6 * time.Hour)}))
	require.NoError(t, store.Finish(ctx, "done", models.StatusCompleted, records.Patch{}))

	sweeper, err := NewSweeper(store, nil, SweeperConfig{StuckAfter: 2 * time.Hour, UploadDir: dir})
	require.NoError(t, err)
	sweeper.now = func() time.Time { return now }

	swept, err := sweeper.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	for _, id := range []string{"stale", "stale-remote", "stale-outside"} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, rec.Status, id)
		assert.Equal(t, "abandoned: no progress within 2h0m0s", rec.ErrorDetails)
	}
	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, fresh.Status)

	assert.NoFileExists(t, stalePath)
	assert.FileExists(t, outside)

	swept, err = sweeper.Process(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

type fakeActiveJobs map[string]bool

func (f fakeActiveJobs) InFlight(id string) bool { return f[id] }

func (f fakeActiveJobs) Stats() (queued, running int) { return 0, len(f) }

func TestSweeperSkipsRunsStillInFlight(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	livePath := filepath.Join(dir, "long-lecture.mp4")
	require.NoError(t, os.WriteFile(livePath, []byte("video"), 0o600))
	require.NoError(t, store.Create(ctx, &models.UploadRecord{ID: "live", SourceLink: livePath, Status: models.StatusProcessing, UpdatedAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, store.Create(ctx, &models.UploadRecord{ID: "dead", Status: models.StatusProcessing, UpdatedAt: now.Add(-3 * time.Hour)}))

	sweeper, err := NewSweeper(store, fakeActiveJobs{"live": true}, SweeperConfig{StuckAfter: 2 * time.Hour, UploadDir: dir})
	require.NoError(t, err)
	sweeper.now = func() time.Time { return now }

	swept, err := sweeper.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	live, err := store.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, live.Status)
	assert.FileExists(t, livePath)

	dead, err := store.Get(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, dead.Status)
}

func TestNewSweeperValidation(t *testing.T) {
	_, err := NewSweeper(nil, nil, SweeperConfig{StuckAfter: time.Hour})
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewSweeper(records.NewMemoryStore(), nil, SweeperConfig{})
	assert.ErrorIs(t, err, ErrConfiguration)
}
