package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Lllllllleong/accessiblelessons/internal/jobs"
	"github.com/Lllllllleong/accessiblelessons/internal/models"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
	"github.com/Lllllllleong/accessiblelessons/internal/speech"
	"github.com/Lllllllleong/accessiblelessons/internal/storage"
)

const defaultFinalWriteTimeout = 30 * time.Second

type PipelineConfig struct {
	LanguageHint      string
	FinalWriteTimeout time.Duration
}

// PipelineDeps lists the collaborators a pipeline run needs.
type PipelineDeps struct {
	Store       records.Store
	Objects     storage.Gateway
	Audio       AudioExtractor
	Transcriber Transcriber
	Synthesizer Synthesizer
	Text        TextGenerator
	Documents   DocumentExtractor
	Visualizer  SceneVisualizer
}

// PipelineFunction runs the processing chain for one upload record, from the
// raw local file to the final terminal write.
type PipelineFunction struct {
	deps   PipelineDeps
	config PipelineConfig
}

func NewPipeline(deps PipelineDeps, config PipelineConfig) (*PipelineFunction, error) {
	var missing []string
	for name, dep := range map[string]any{
		"store":       deps.Store,
		"objects":     deps.Objects,
		"audio":       deps.Audio,
		"transcriber": deps.Transcriber,
		"synthesizer": deps.Synthesizer,
		"text":        deps.Text,
		"documents":   deps.Documents,
		"visualizer":  deps.Visualizer,
	} {
		if dep == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, Wrap(ErrConfiguration, "pipeline", "init", "missing dependencies: "+strings.Join(missing, ", "), nil)
	}
	if config.FinalWriteTimeout <= 0 {
		config.FinalWriteTimeout = defaultFinalWriteTimeout
	}
	if config.LanguageHint == "" {
		config.LanguageHint = "en-US"
	}
	slog.Info("Pipeline initialized.", "languageHint", config.LanguageHint)
	return &PipelineFunction{deps: deps, config: config}, nil
}

// Run adapts Process to the job dispatcher's handler signature.
func (f *PipelineFunction) Run(ctx context.Context, job jobs.Job) {
	_ = f.Process(ctx, job)
}

// Process executes one run. Every exit path removes job.LocalPath and leaves
// the record in a terminal state, unless the store itself is unreachable.
func (f *PipelineFunction) Process(ctx context.Context, job jobs.Job) (err error) {
	logCtx := slog.With("uploadId", job.UploadID, "category", job.Category, "originalName", job.OriginalName)
	logCtx.Info("Starting pipeline run.")
	start := time.Now()

	defer removeFile(logCtx, job.LocalPath)
	defer func() {
		if p := recover(); p != nil {
			err = f.handleError(ctx, logCtx, job, fmt.Errorf("pipeline panicked: %v", p))
		}
	}()

	switch job.Category {
	case models.CategoryVideo:
		err = f.processVideo(ctx, logCtx, job)
	case models.CategoryDocument:
		err = f.processDocument(ctx, logCtx, job)
	default:
		err = f.processOther(ctx, logCtx, job)
	}
	if err != nil {
		return f.handleError(ctx, logCtx, job, err)
	}
	logCtx.Info("Pipeline run complete.", "duration", time.Since(start).String())
	return nil
}

func (f *PipelineFunction) processVideo(ctx context.Context, logCtx *slog.Logger, job jobs.Job) error {
	audioPath, err := f.deps.Audio.ExtractAudio(ctx, job.LocalPath)
	if err != nil {
		return Wrap(ErrTranscode, "video", "extract audio", "", err)
	}
	defer removeFile(logCtx, audioPath)
	logCtx.Info("Audio track extracted.", "path", audioPath)

	video, err := f.deps.Objects.Upload(ctx, storage.Source{Path: job.LocalPath, Name: job.OriginalName}, storage.CategoryAudio)
	if err != nil {
		return Wrap(ErrStorage, "video", "upload source", "", err)
	}
	audio, err := f.deps.Objects.Upload(ctx, storage.FileSource(audioPath), storage.CategoryAudio)
	if err != nil {
		return Wrap(ErrStorage, "video", "upload audio", "", err)
	}
	removeFile(logCtx, job.LocalPath)
	removeFile(logCtx, audioPath)
	logCtx.Info("Video and audio uploaded.", "sourceLink", video.PublicURL, "audioUri", audio.StorageURI)

	patch := records.Patch{SourceLink: &video.PublicURL, AudioLink: &audio.PublicURL}

	transcript, err := f.deps.Transcriber.Transcribe(ctx, audio.StorageURI, f.config.LanguageHint)
	if errors.Is(err, speech.ErrNoSpeech) {
		logCtx.Warn("No speech recognized; skipping narration and scenes.")
		return f.finish(ctx, logCtx, job, models.StatusCompleted, patch)
	}
	if err != nil {
		return Wrap(ErrGeneration, "video", "transcribe", "", err)
	}
	patch.Transcript = transcript
	if err := f.checkpoint(ctx, logCtx, job, patch); err != nil {
		return err
	}
	logCtx.Info("Transcription complete.", "languageCode", transcript.LanguageCode, "words", len(transcript.Words))

	return f.narrateAndPublish(ctx, logCtx, job, "video", transcript.Text, patch)
}

func (f *PipelineFunction) processDocument(ctx context.Context, logCtx *slog.Logger, job jobs.Job) error {
	text, err := f.deps.Documents.Extract(ctx, job.OriginalName, job.LocalPath)
	if err != nil {
		return Wrap(ErrExtraction, "document", "extract text", "", err)
	}
	if strings.TrimSpace(text) == "" {
		removeFile(logCtx, job.LocalPath)
		logCtx.Info("Document has no extractable text.")
		return f.finish(ctx, logCtx, job, models.StatusCompleted, records.Patch{})
	}
	logCtx.Info("Text extracted.", "characters", len(text))

	original, err := f.deps.Objects.Upload(ctx, storage.Source{Path: job.LocalPath, Name: job.OriginalName}, storage.CategoryAudio)
	if err != nil {
		return Wrap(ErrStorage, "document", "upload source", "", err)
	}
	removeFile(logCtx, job.LocalPath)

	patch := records.Patch{SourceLink: &original.PublicURL}
	return f.narrateAndPublish(ctx, logCtx, job, "document", text, patch)
}

func (f *PipelineFunction) processOther(ctx context.Context, logCtx *slog.Logger, job jobs.Job) error {
	removeFile(logCtx, job.LocalPath)
	logCtx.Info("No processing defined for this file type.")
	return f.finish(ctx, logCtx, job, models.StatusCompleted, records.Patch{})
}

// narrateAndPublish is the shared tail of the video and document branches:
// narration, speech synthesis, scene visualization and the final write.
func (f *PipelineFunction) narrateAndPublish(ctx context.Context, logCtx *slog.Logger, job jobs.Job, stage, text string, patch records.Patch) error {
	narration, err := f.deps.Text.Narrate(ctx, text)
	if err != nil {
		return Wrap(ErrGeneration, stage, "narrate", "", err)
	}
	patch.ExtractedText = &narration
	if err := f.checkpoint(ctx, logCtx, job, records.Patch{ExtractedText: &narration}); err != nil {
		return err
	}
	logCtx.Info("Narration generated.", "characters", len(narration))

	mp3Path, err := f.deps.Synthesizer.Synthesize(ctx, narration)
	if err != nil {
		return Wrap(ErrGeneration, stage, "synthesize speech", "", err)
	}
	defer removeFile(logCtx, mp3Path)
	spoken, err := f.deps.Objects.Upload(ctx, storage.FileSource(mp3Path), storage.CategoryAudio)
	if err != nil {
		return Wrap(ErrStorage, stage, "upload narration audio", "", err)
	}
	removeFile(logCtx, mp3Path)
	patch.BlindFriendlyLink = &spoken.PublicURL
	logCtx.Info("Narration audio uploaded.", "blindFriendlyLink", spoken.PublicURL)

	visual, err := f.deps.Visualizer.Visualize(ctx, narration)
	if err != nil {
		return Wrap(ErrVisualization, stage, "visualize scenes", "", err)
	}
	patch.DyslexiaFriendly = visual.Scenes
	if patch.DyslexiaFriendly == nil {
		patch.DyslexiaFriendly = []models.Scene{}
	}
	logCtx.Info("Scenes generated.", "totalScenes", visual.TotalScenes, "successfulScenes", visual.SuccessfulScenes)

	return f.finish(ctx, logCtx, job, models.StatusCompleted, patch)
}

// checkpoint persists the fields gathered so far without changing status.
// Only a record that can no longer be written aborts the run.
func (f *PipelineFunction) checkpoint(ctx context.Context, logCtx *slog.Logger, job jobs.Job, patch records.Patch) error {
	if patch.Empty() {
		return nil
	}
	err := f.deps.Store.Update(ctx, job.UploadID, patch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, records.ErrTerminal), errors.Is(err, records.ErrNotFound):
		return Wrap(ErrStorage, "", "checkpoint", "", err)
	default:
		logCtx.Warn("Failed to persist intermediate results.", "error", err)
		return nil
	}
}

func (f *PipelineFunction) finish(ctx context.Context, logCtx *slog.Logger, job jobs.Job, status models.Status, patch records.Patch) error {
	writeCtx, cancel := f.terminalContext(ctx)
	defer cancel()
	if err := f.deps.Store.Finish(writeCtx, job.UploadID, status, patch); err != nil {
		return Wrap(ErrStorage, "", "persist result", string(status), err)
	}
	logCtx.Info("Record finished.", "status", status)
	return nil
}

// handleError removes the temp file first, then writes the failed status.
func (f *PipelineFunction) handleError(ctx context.Context, logCtx *slog.Logger, job jobs.Job, originalErr error) error {
	removeFile(logCtx, job.LocalPath)
	logCtx.Error("Pipeline run failed.", "error", originalErr)

	details := originalErr.Error()
	writeCtx, cancel := f.terminalContext(ctx)
	defer cancel()
	if err := f.deps.Store.Finish(writeCtx, job.UploadID, models.StatusFailed, records.Patch{ErrorDetails: &details}); err != nil {
		if errors.Is(err, records.ErrTerminal) {
			logCtx.Warn("Record already terminal; failure not recorded.", "error", err)
		} else {
			logCtx.Error("CRITICAL: Failed to update status to failed after a processing error.", "updateError", err)
		}
	}
	return originalErr
}

// terminalContext survives cancellation of the run context.
func (f *PipelineFunction) terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.config.FinalWriteTimeout)
}

func removeFile(logCtx *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logCtx.Warn("Failed to remove temp file.", "path", path, "error", err)
	}
}
