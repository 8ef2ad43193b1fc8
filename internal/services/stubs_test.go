package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/accessiblelessons/internal/jobs"
	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
	"github.com/Lllllllleong/accessiblelessons/internal/storage"
)

type uploadCall struct {
	Name     string
	Path     string
	Object   string
	Category storage.Category
	Size     int
}

// stubGateway records uploads and hands out predictable URLs.
type stubGateway struct {
	mu    sync.Mutex
	calls []uploadCall
	err   error
}

func (g *stubGateway) Upload(_ context.Context, src storage.Source, category storage.Category) (*storage.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	size := len(src.Data)
	if src.Path != "" {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, err
		}
		size = len(data)
	}
	object := src.ObjectName
	if object == "" {
		object = fmt.Sprintf("%s/%d-%s", category, len(g.calls), name)
	}
	g.calls = append(g.calls, uploadCall{Name: name, Path: src.Path, Object: object, Category: category, Size: size})
	return &storage.Object{
		PublicURL:  "https://cdn.example.com/" + object,
		StorageURI: "gs://media/" + object,
		Name:       object,
	}, nil
}

func (g *stubGateway) uploads() []uploadCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uploadCall(nil), g.calls...)
}

type stubAudio struct {
	err error
}

func (a stubAudio) ExtractAudio(_ context.Context, source string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	dest := strings.TrimSuffix(source, filepath.Ext(source)) + "-audio.ogg"
	return dest, os.WriteFile(dest, []byte("OggS"), 0o600)
}

type stubTranscriber struct {
	uri        string
	transcript *models.Transcript
	err        error
}

func (s *stubTranscriber) Transcribe(_ context.Context, uri, _ string) (*models.Transcript, error) {
	s.uri = uri
	return s.transcript, s.err
}

type stubSynthesizer struct {
	dir   string
	calls int
	err   error
	path  string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, text string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	s.path = filepath.Join(s.dir, fmt.Sprintf("narration-%d.mp3", s.calls))
	return s.path, os.WriteFile(s.path, []byte("ID3"+text), 0o600)
}

// stubText implements TextGenerator with canned replies.
type stubText struct {
	mu           sync.Mutex
	narrateCalls []string
	sceneCalls   []string
	narrate      func(string) (string, error)
	scenes       string
	scenesErr    error
}

func (s *stubText) Narrate(_ context.Context, text string) (string, error) {
	s.mu.Lock()
	s.narrateCalls = append(s.narrateCalls, text)
	s.mu.Unlock()
	if s.narrate != nil {
		return s.narrate(text)
	}
	return "Narration: " + strings.TrimSpace(text), nil
}

func (s *stubText) Scenes(_ context.Context, narration string) (string, error) {
	s.mu.Lock()
	s.sceneCalls = append(s.sceneCalls, narration)
	s.mu.Unlock()
	return s.scenes, s.scenesErr
}

func (s *stubText) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.narrateCalls) + len(s.sceneCalls)
}

type stubDocuments struct {
	text string
	err  error
}

func (d stubDocuments) Extract(context.Context, string, string) (string, error) {
	return d.text, d.err
}

type stubVisualizer struct {
	calls     int
	narration string
	res       *models.VisualizeResponse
	err       error
	hook      func()
}

func (v *stubVisualizer) Visualize(_ context.Context, narration string) (*models.VisualizeResponse, error) {
	v.calls++
	v.narration = narration
	if v.hook != nil {
		v.hook()
	}
	return v.res, v.err
}

// stubImages fails every prompt containing failOn and succeeds otherwise.
type stubImages struct {
	mu      sync.Mutex
	prompts []string
	failOn  string
	// failures counts down failed attempts for every prompt when failOn is empty.
	failures int
}

func (s *stubImages) Generate(_ context.Context, prompt string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.failOn != "" && strings.Contains(prompt, s.failOn) {
		return nil, errors.New("upstream 500")
	}
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("rate limited")
	}
	return []byte("\x89PNG"), nil
}

// ctxStore rejects writes made with a cancelled context, like a real backend.
type ctxStore struct {
	*records.MemoryStore
}

func (s ctxStore) Update(ctx context.Context, id string, patch records.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Update(ctx, id, patch)
}

func (s ctxStore) Finish(ctx context.Context, id string, status models.Status, patch records.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Finish(ctx, id, status, patch)
}

type stubQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *stubQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// recordingSleeper captures waits instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

const fourScenes = `Here are your scenes.

1. **Title:** Scene one
**Description:** Seeds go into soil.
**Key Idea:** Plants start as seeds.
**Image_prompt:** A seed in soil

2. **Title:** Scene two
**Description:** Rain falls.
**Key Idea:** Plants need water.
**Image_prompt:** Rain over a garden

3. **Title:** Scene three
**Description:** The sun shines.
**Key Idea:** Plants need light.
**Image_prompt:** Sunlight on a sprout

4. **Title:** Scene four
**Description:** A flower blooms.
**Key Idea:** Plants grow.
**Image_prompt:** A blooming flower`

// newUploadedRecord writes a temp file for id and stores a processing record
// pointing at it.
func newUploadedRecord(t *testing.T, store records.Store, id, name string, content []byte) jobs.Job {
	t.Helper()
	path := filepath.Join(t.TempDir(), id+models.Extension(name))
	require.NoError(t, os.WriteFile(path, content, 0o600))
	rec := &models.UploadRecord{
		ID:           id,
		OwnerID:      "teacher-1",
		OriginalName: name,
		Category:     models.ClassifyFile(name),
		SourceLink:   path,
		Status:       models.StatusProcessing,
	}
	require.NoError(t, store.Create(context.Background(), rec))
	return jobs.Job{UploadID: id, OwnerID: rec.OwnerID, OriginalName: name, LocalPath: path, Category: rec.Category}
}
