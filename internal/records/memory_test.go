package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

func newRecord(id string) *models.UploadRecord {
	return &models.UploadRecord{
		ID:           id,
		OwnerID:      "teacher-1",
		OriginalName: "lesson.docx",
		Category:     models.CategoryDocument,
		SourceLink:   "/tmp/uploads/" + id + ".docx",
		Status:       models.StatusProcessing,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, newRecord("a")))
	assert.ErrorIs(t, s.Create(ctx, newRecord("a")), ErrAlreadyExists)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePatchIsAdditive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("a")))

	transcript := &models.Transcript{Text: "hello", Words: []models.Word{{Word: "hello", EndSeconds: 0.4}}}
	require.NoError(t, s.Update(ctx, "a", Patch{Transcript: transcript}))
	require.NoError(t, s.Update(ctx, "a", Patch{AudioLink: ptr("https://cdn/a.ogg")}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello", got.Transcript.Text)
	assert.Equal(t, "https://cdn/a.ogg", *got.AudioLink)
	assert.Nil(t, got.ExtractedText)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestMemoryStoreSingleTerminalWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("a")))

	require.NoError(t, s.Finish(ctx, "a", models.StatusCompleted, Patch{ExtractedText: ptr("text")}))
	assert.ErrorIs(t, s.Finish(ctx, "a", models.StatusFailed, Patch{ErrorDetails: ptr("late")}), ErrTerminal)
	assert.ErrorIs(t, s.Update(ctx, "a", Patch{AudioLink: ptr("x")}), ErrTerminal)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorDetails)
	assert.Nil(t, got.AudioLink)
	assert.NotNil(t, got.CompletedAt)
}

func TestMemoryStoreRejectsUnknownStatus(t *testing.T) {
	s := NewMemoryStore()
	rec := newRecord("a")
	rec.Status = "queued"

	assert.ErrorIs(t, s.Create(context.Background(), rec), ErrInvalidStatus)
	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFinishRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("a")))

	assert.Error(t, s.Finish(ctx, "a", models.StatusProcessing, Patch{}))
	assert.ErrorIs(t, s.Finish(ctx, "missing", models.StatusFailed, Patch{}), ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newRecord("a")))
	require.NoError(t, s.Update(ctx, "a", Patch{DyslexiaFriendly: []models.Scene{{Title: "One", SceneNumber: 1}}}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	got.DyslexiaFriendly[0].Title = "mutated"
	got.Status = models.StatusFailed

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "One", again.DyslexiaFriendly[0].Title)
	assert.Equal(t, models.StatusProcessing, again.Status)
}

func TestMemoryStoreListStuck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Create(ctx, newRecord("old")))
	clock = base.Add(time.Minute)
	require.NoError(t, s.Create(ctx, newRecord("older-done")))
	require.NoError(t, s.Finish(ctx, "older-done", models.StatusCompleted, Patch{}))
	clock = base.Add(3 * time.Hour)
	require.NoError(t, s.Create(ctx, newRecord("fresh")))

	stuck, err := s.ListStuck(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "old", stuck[0].ID)
}

func TestPatchEmpty(t *testing.T) {
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{SourceLink: ptr("x")}.Empty())
	assert.False(t, Patch{DyslexiaFriendly: []models.Scene{}}.Empty())
}
