package services

import (
	"context"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// The pipeline talks to its collaborators through these interfaces so every
// cloud client can be swapped for a stub in tests.

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, source string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, storageURI, languageHint string) (*models.Transcript, error)
}

// Synthesizer renders text to a local audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// TextGenerator is implemented by gcp.VertexClient.
type TextGenerator interface {
	Narrate(ctx context.Context, lessonText string) (string, error)
	Scenes(ctx context.Context, narration string) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// DocumentExtractor picks an extractor from the file name and reads path.
type DocumentExtractor interface {
	Extract(ctx context.Context, name, path string) (string, error)
}

// SceneVisualizer turns narration into illustrated scenes.
type SceneVisualizer interface {
	Visualize(ctx context.Context, narration string) (*models.VisualizeResponse, error)
}
