package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records/migrations"
)

// PostgresStore keeps records in the uploads table. The terminal-write rule
// is enforced by guarding every UPDATE with status = 'processing'.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// NewPostgresStore opens dsn with the pgx driver and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newPostgresStore(db), nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const selectColumns = `id, owner_id, original_name, category, source_link, status,
	transcript, extracted_text, audio_link, blind_friendly_link, dyslexia_friendly,
	error_details, created_at, updated_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, rec *models.UploadRecord) error {
	if err := validateStatus(rec.ID, rec.Status); err != nil {
		return err
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	transcript, err := jsonParam(rec.Transcript)
	if err != nil {
		return err
	}
	var scenes *string
	if rec.DyslexiaFriendly != nil {
		if scenes, err = jsonParam(rec.DyslexiaFriendly); err != nil {
			return err
		}
	}

	query := `INSERT INTO uploads (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.OriginalName, string(rec.Category), rec.SourceLink, string(rec.Status),
		transcript, rec.ExtractedText, rec.AudioLink, rec.BlindFriendlyLink, scenes,
		rec.ErrorDetails, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.UploadRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM uploads WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading upload %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) error {
	return s.write(ctx, id, "", patch)
}

func (s *PostgresStore) Finish(ctx context.Context, id string, st models.Status, patch Patch) error {
	if err := validateTerminal(st); err != nil {
		return err
	}
	return s.write(ctx, id, st, patch)
}

const updateQuery = `UPDATE uploads SET
	source_link = COALESCE($2, source_link),
	transcript = COALESCE($3, transcript),
	extracted_text = COALESCE($4, extracted_text),
	audio_link = COALESCE($5, audio_link),
	blind_friendly_link = COALESCE($6, blind_friendly_link),
	dyslexia_friendly = COALESCE($7, dyslexia_friendly),
	error_details = COALESCE($8, error_details),
	status = COALESCE($9, status),
	completed_at = CASE WHEN $9::text IS NULL THEN completed_at ELSE $10 END,
	updated_at = $10
	WHERE id = $1 AND status = 'processing'`

func (s *PostgresStore) write(ctx context.Context, id string, st models.Status, patch Patch) error {
	transcript, err := jsonParam(patch.Transcript)
	if err != nil {
		return err
	}
	var scenes *string
	if patch.DyslexiaFriendly != nil {
		if scenes, err = jsonParam(patch.DyslexiaFriendly); err != nil {
			return err
		}
	}
	var statusParam *string
	if st != "" {
		statusParam = ptr(string(st))
	}

	res, err := s.db.ExecContext(ctx, updateQuery,
		id, patch.SourceLink, transcript, patch.ExtractedText, patch.AudioLink,
		patch.BlindFriendlyLink, scenes, patch.ErrorDetails, statusParam, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("error updating upload %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating upload %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM uploads WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error reading upload %s: %w", id, err)
	}
	return ErrTerminal
}

func (s *PostgresStore) ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.UploadRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM uploads
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying stuck uploads: %w", err)
	}
	defer rows.Close()

	var out []*models.UploadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning upload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.UploadRecord, error) {
	var (
		rec                             models.UploadRecord
		category, status                string
		transcript, scenes              sql.NullString
		extracted, audio, blindFriendly sql.NullString
		completedAt                     sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.OriginalName, &category, &rec.SourceLink, &status,
		&transcript, &extracted, &audio, &blindFriendly, &scenes,
		&rec.ErrorDetails, &rec.CreatedAt, &rec.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Category = models.FileCategory(category)
	rec.Status = models.Status(status)
	if err := validateStatus(rec.ID, rec.Status); err != nil {
		return nil, err
	}
	if transcript.Valid {
		var t models.Transcript
		if err := json.Unmarshal([]byte(transcript.String), &t); err != nil {
			return nil, fmt.Errorf("invalid transcript json: %w", err)
		}
		rec.Transcript = &t
	}
	if scenes.Valid {
		if err := json.Unmarshal([]byte(scenes.String), &rec.DyslexiaFriendly); err != nil {
			return nil, fmt.Errorf("invalid scenes json: %w", err)
		}
	}
	if extracted.Valid {
		rec.ExtractedText = ptr(extracted.String)
	}
	if audio.Valid {
		rec.AudioLink = ptr(audio.String)
	}
	if blindFriendly.Valid {
		rec.BlindFriendlyLink = ptr(blindFriendly.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// jsonParam encodes v for a JSONB column; a nil pointer becomes SQL NULL.
func jsonParam[T any](v T) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return ptr(string(b)), nil
}
