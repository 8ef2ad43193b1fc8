package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// MemoryStore keeps records in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.UploadRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.UploadRecord), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, rec *models.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateStatus(rec.ID, rec.Status); err != nil {
		return err
	}
	if _, ok := s.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	return s.write(id, "", patch)
}

func (s *MemoryStore) Finish(_ context.Context, id string, status models.Status, patch Patch) error {
	if err := validateTerminal(status); err != nil {
		return err
	}
	return s.write(id, status, patch)
}

func (s *MemoryStore) write(id string, status models.Status, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	return transition(rec, status, patch, s.now().UTC())
}

func (s *MemoryStore) ListStuck(_ context.Context, before time.Time, limit int) ([]*models.UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.UploadRecord
	for _, rec := range s.records {
		if rec.Status == models.StatusProcessing && rec.UpdatedAt.Before(before) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec *models.UploadRecord) *models.UploadRecord {
	c := *rec
	if rec.Transcript != nil {
		t := *rec.Transcript
		t.Words = append([]models.Word(nil), rec.Transcript.Words...)
		c.Transcript = &t
	}
	if rec.DyslexiaFriendly != nil {
		c.DyslexiaFriendly = append([]models.Scene(nil), rec.DyslexiaFriendly...)
	}
	return &c
}
