package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := newPostgresStore(db)
	s.now = func() time.Time { return time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC) }
	return s, mock
}

var columns = []string{
	"id", "owner_id", "original_name", "category", "source_link", "status",
	"transcript", "extracted_text", "audio_link", "blind_friendly_link", "dyslexia_friendly",
	"error_details", "created_at", "updated_at", "completed_at",
}

func TestPostgresCreate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Create(context.Background(), newRecord("a")))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Create(context.Background(), newRecord("a")), ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).AddRow(
		"a", "teacher-1", "talk.mp4", "video", "https://cdn/talk.mp4", "completed",
		`{"text":"hi","words":[{"word":"hi","startSeconds":0,"endSeconds":0.3}],"languageCode":"en-us"}`,
		nil, "https://cdn/a.ogg", "https://cdn/n.mp3",
		`[{"title":"One","description":"d","keyIdea":"k","imagePrompt":"p","imageUrl":null,"sceneNumber":1,"error":"boom"}]`,
		"", created, created, created,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id")).WithArgs("a").WillReturnRows(rows)

	rec, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryVideo, rec.Category)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Transcript)
	assert.Equal(t, "hi", rec.Transcript.Words[0].Word)
	assert.Nil(t, rec.ExtractedText)
	assert.Equal(t, "https://cdn/n.mp3", *rec.BlindFriendlyLink)
	require.Len(t, rec.DyslexiaFriendly, 1)
	assert.Nil(t, rec.DyslexiaFriendly[0].ImageURL)
	assert.Equal(t, "boom", rec.DyslexiaFriendly[0].Error)
	require.NotNil(t, rec.CompletedAt)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRejectsUnknownStatus(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).AddRow(
		"a", "teacher-1", "notes.docx", "document", "/tmp/a.docx", "queued",
		nil, nil, nil, nil, nil, "", created, created, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id")).WithArgs("a").WillReturnRows(rows)

	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	rec := newRecord("b")
	rec.Status = ""
	assert.ErrorIs(t, s.Create(context.Background(), rec), ErrInvalidStatus)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinish(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploads SET")).
		WithArgs("a", nil, nil, "text", nil, nil, nil, nil, "completed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Finish(context.Background(), "a", models.StatusCompleted, Patch{ExtractedText: ptr("text")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteAfterTerminal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploads SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM uploads")).WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	err := s.Update(context.Background(), "a", Patch{AudioLink: ptr("x")})
	assert.ErrorIs(t, err, ErrTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE uploads SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM uploads")).WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	err := s.Finish(context.Background(), "nope", models.StatusFailed, Patch{ErrorDetails: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListStuck(t *testing.T) {
	s, mock := newMockStore(t)
	before := time.Date(2025, 2, 3, 2, 0, 0, 0, time.UTC)
	old := before.Add(-time.Hour)

	rows := sqlmock.NewRows(columns).AddRow(
		"a", "teacher-1", "talk.mp4", "video", "/tmp/a.mp4", "processing",
		nil, nil, nil, nil, nil, "", old, old, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'processing' AND updated_at < $1")).
		WithArgs(before, 100).
		WillReturnRows(rows)

	stuck, err := s.ListStuck(context.Background(), before, 0)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "a", stuck[0].ID)
	assert.Nil(t, stuck[0].Transcript)
	assert.Nil(t, stuck[0].CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.ErrorContains(t, RunMigrations(context.Background(), db), "boom")
}
