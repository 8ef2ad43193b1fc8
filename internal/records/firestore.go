package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// FirestoreStore keeps one document per upload, keyed by the upload id.
// Status transitions run inside a transaction so two writers can never both
// observe "processing" and both finish the record.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, rec *models.UploadRecord) error {
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
	if _, err := s.doc(rec.ID).Create(ctx, rec); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create upload document %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.UploadRecord, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read upload document %s: %w", id, err)
	}
	return decode(snap)
}

func (s *FirestoreStore) Update(ctx context.Context, id string, patch Patch) error {
	return s.write(ctx, id, "", patch)
}

func (s *FirestoreStore) Finish(ctx context.Context, id string, st models.Status, patch Patch) error {
	if err := validateTerminal(st); err != nil {
		return err
	}
	return s.write(ctx, id, st, patch)
}

func (s *FirestoreStore) write(ctx context.Context, id string, st models.Status, patch Patch) error {
	ref := s.doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return ErrTerminal
		}
		return tx.Update(ref, updatesFor(st, patch, s.now().UTC()))
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTerminal) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update upload document %s: %w", id, err)
	}
	return nil
}

// updatesFor translates a patch into field paths. Only set fields are sent.
func updatesFor(st models.Status, patch Patch, now time.Time) []firestore.Update {
	updates := []firestore.Update{{Path: "updatedAt", Value: now}}
	if st != "" {
		updates = append(updates,
			firestore.Update{Path: "status", Value: st},
			firestore.Update{Path: "completedAt", Value: now},
		)
	}
	if patch.SourceLink != nil {
		updates = append(updates, firestore.Update{Path: "sourceLink", Value: *patch.SourceLink})
	}
	if patch.Transcript != nil {
		updates = append(updates, firestore.Update{Path: "transcript", Value: *patch.Transcript})
	}
	if patch.ExtractedText != nil {
		updates = append(updates, firestore.Update{Path: "extractedText", Value: *patch.ExtractedText})
	}
	if patch.AudioLink != nil {
		updates = append(updates, firestore.Update{Path: "audioLink", Value: *patch.AudioLink})
	}
	if patch.BlindFriendlyLink != nil {
		updates = append(updates, firestore.Update{Path: "blindFriendlyLink", Value: *patch.BlindFriendlyLink})
	}
	if patch.DyslexiaFriendly != nil {
		updates = append(updates, firestore.Update{Path: "dyslexiaFriendly", Value: patch.DyslexiaFriendly})
	}
	if patch.ErrorDetails != nil {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: *patch.ErrorDetails})
	}
	return updates
}

// ListStuck needs a composite index on (status, updatedAt).
func (s *FirestoreStore) ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.UploadRecord, error) {
	q := s.client.Collection(s.collection).
		Where("status", "==", string(models.StatusProcessing)).
		Where("updatedAt", "<", before).
		OrderBy("updatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*models.UploadRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query stuck uploads: %w", err)
		}
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func decode(snap *firestore.DocumentSnapshot) (*models.UploadRecord, error) {
	var rec models.UploadRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode upload document %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	if err := validateStatus(rec.ID, rec.Status); err != nil {
		return nil, err
	}
	return &rec, nil
}
