package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/scenes"
	"github.com/Lllllllleong/accessiblelessons/internal/storage"
)

const (
	DefaultImageAttempts = 3
	DefaultSceneDelay    = 2 * time.Second
	DefaultImageStyle    = "vivid colors, 1024x1024, comic-book style, educational illustration"

	maxRetryDelay = 10 * time.Second
)

type VisualizerConfig struct {
	Attempts   int
	SceneDelay time.Duration
	Style      string
}

// SceneVisualizerFunction splits narration into scenes and illustrates each
// one. A scene whose image cannot be produced keeps its text and carries an
// error instead of a URL.
type SceneVisualizerFunction struct {
	text    TextGenerator
	images  ImageGenerator
	objects storage.Gateway
	config  VisualizerConfig

	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	newSuffix func() string
}

func NewSceneVisualizer(text TextGenerator, images ImageGenerator, objects storage.Gateway, config VisualizerConfig) (*SceneVisualizerFunction, error) {
	if text == nil || images == nil || objects == nil {
		return nil, Wrap(ErrConfiguration, "visualize", "init", "text, image and storage clients are required", nil)
	}
	if config.Attempts <= 0 {
		config.Attempts = DefaultImageAttempts
	}
	if config.SceneDelay < 0 {
		config.SceneDelay = 0
	}
	if config.Style == "" {
		config.Style = DefaultImageStyle
	}
	return &SceneVisualizerFunction{
		text:      text,
		images:    images,
		objects:   objects,
		config:    config,
		sleep:     sleepContext,
		now:       time.Now,
		newSuffix: func() string { return uuid.NewString()[:8] },
	}, nil
}

// Visualize lets the pipeline call the visualizer in-process.
func (f *SceneVisualizerFunction) Visualize(ctx context.Context, narration string) (*models.VisualizeResponse, error) {
	return f.Process(ctx, &models.VisualizeRequest{Text: narration})
}

func (f *SceneVisualizerFunction) Process(ctx context.Context, req *models.VisualizeRequest) (*models.VisualizeResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, Wrap(ErrValidation, "visualize", "", "text is required", nil)
	}
	logCtx := slog.With("narrationChars", len(req.Text))

	raw, err := f.text.Scenes(ctx, req.Text)
	if err != nil {
		logCtx.Error("Scene generation failed.", "error", err)
		return nil, Wrap(ErrGeneration, "visualize", "generate scenes", "", err)
	}
	parsed := scenes.Parse(raw)
	if len(parsed) > scenes.MaxScenes {
		parsed = parsed[:scenes.MaxScenes]
	}
	logCtx.Info("Scenes parsed.", "count", len(parsed))

	successful := 0
	for i := range parsed {
		if i > 0 {
			if err := f.sleep(ctx, f.config.SceneDelay); err != nil {
				return nil, err
			}
		}
		scene := &parsed[i]
		url, err := f.illustrate(ctx, logCtx, scene)
		if err != nil {
			logCtx.Warn("Scene left without an image.", "scene", scene.SceneNumber, "error", err)
			scene.ImageURL = nil
			scene.Error = err.Error()
			continue
		}
		scene.ImageURL = &url
		successful++
	}

	return &models.VisualizeResponse{
		Scenes:           parsed,
		Message:          fmt.Sprintf("Generated %d of %d scene images.", successful, len(parsed)),
		TotalScenes:      len(parsed),
		SuccessfulScenes: successful,
		FullStory:        raw,
	}, nil
}

// illustrate generates and uploads the image for one scene, retrying
// generation with a capped doubling delay.
func (f *SceneVisualizerFunction) illustrate(ctx context.Context, logCtx *slog.Logger, scene *models.Scene) (string, error) {
	prompt := strings.TrimSpace(scene.ImagePrompt)
	if prompt == "" {
		prompt = scenes.DefaultImagePrompt
	}
	prompt = prompt + ", " + f.config.Style

	var image []byte
	var lastErr error
	for attempt := 1; attempt <= f.config.Attempts; attempt++ {
		image, lastErr = f.images.Generate(ctx, prompt)
		if lastErr == nil {
			break
		}
		logCtx.Warn("Image generation failed.", "scene", scene.SceneNumber, "attempt", attempt, "maxAttempts", f.config.Attempts, "error", lastErr)
		if attempt == f.config.Attempts {
			break
		}
		if err := f.sleep(ctx, RetryDelay(attempt)); err != nil {
			return "", err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("image generation failed after %d attempts: %w", f.config.Attempts, lastErr)
	}

	src := storage.BytesSource("scene.png", image, "image/png")
	src.ObjectName = fmt.Sprintf("scenes/scene-%d-%d-%s.png", scene.SceneNumber, f.now().UnixMilli(), f.newSuffix())
	obj, err := f.objects.Upload(ctx, src, storage.CategoryImages)
	if err != nil {
		return "", fmt.Errorf("image upload failed: %w", err)
	}
	return obj.PublicURL, nil
}

// RetryDelay is the wait after the given failed attempt (1-based):
// min(1000 * 2^attempt, 10000) milliseconds.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 4 {
		return maxRetryDelay
	}
	return min(time.Duration(1000<<attempt)*time.Millisecond, maxRetryDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
