// Package app builds the services from configuration. Both binaries share it
// so they open the record store the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/Lllllllleong/accessiblelessons/internal/config"
	"github.com/Lllllllleong/accessiblelessons/internal/docextract"
	"github.com/Lllllllleong/accessiblelessons/internal/gcp"
	"github.com/Lllllllleong/accessiblelessons/internal/imagegen"
	"github.com/Lllllllleong/accessiblelessons/internal/jobs"
	"github.com/Lllllllleong/accessiblelessons/internal/records"
	"github.com/Lllllllleong/accessiblelessons/internal/services"
	"github.com/Lllllllleong/accessiblelessons/internal/speech"
	"github.com/Lllllllleong/accessiblelessons/internal/storage"
	"github.com/Lllllllleong/accessiblelessons/internal/transcode"
)

// App holds every long-lived client of the API process.
type App struct {
	Config     *config.Config
	Store      records.Store
	Dispatcher *jobs.Dispatcher
	Handlers   *services.HTTPHandlers
	Sweeper    *services.SweeperFunction

	cancel  context.CancelFunc
	closers []func() error
}

// OpenStore connects to the record backend selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (records.Store, error) {
	switch cfg.RecordsBackend {
	case config.RecordsFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		return records.NewFirestoreStore(client, cfg.FirestoreCollection), nil
	case config.RecordsPostgres:
		return records.NewPostgresStore(ctx, cfg.DatabaseURL)
	case config.RecordsMemory:
		slog.Warn("Using in-memory record store; records are lost on restart.")
		return records.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.RecordsBackend)
	}
}

// OpenGateway connects to the object storage backend selected by cfg.
func OpenGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, func() error, error) {
	switch cfg.StorageBackend {
	case config.StorageGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		return storage.NewGCSGateway(client, cfg.MediaBucket, cfg.PublicBaseURL), client.Close, nil
	case config.StorageS3:
		gw, err := storage.NewS3Gateway(ctx, storage.S3Config{
			Bucket:        cfg.MediaBucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("S3 storage selected; video transcription needs gs:// audio and will fail.")
		return gw, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// New wires the API: record store, storage, AI clients, pipeline, job
// dispatcher, sweeper and HTTP handlers.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(time.Second)
		}
	}()

	if a.Store, err = OpenStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	objects, closeObjects, err := OpenGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeObjects)

	vertex, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.TextModel)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, vertex.Close)

	transcriber, err := speech.NewTranscriber(ctx, cfg.SpeechAltLanguages)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, transcriber.Close)

	synthesizer, err := speech.NewSynthesizer(ctx, cfg.TTSLanguageCode, cfg.TTSVoiceName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, synthesizer.Close)

	images := imagegen.NewClient(imagegen.Config{
		APIURL: cfg.ImageAPIURL,
		APIKey: cfg.ImageAPIKey,
		Model:  cfg.ImageModel,
		Size:   cfg.ImageSize,
	}, nil)

	visualizer, err := services.NewSceneVisualizer(vertex, images, objects, services.VisualizerConfig{Attempts: cfg.ImageAttempts})
	if err != nil {
		return nil, err
	}
	var scenes services.SceneVisualizer = visualizer
	if cfg.VisualizeURL != "" {
		scenes = services.NewVisualizeClient(cfg.VisualizeURL, cfg.InternalToken, nil)
	}

	documents := docextract.NewDefaultRegistry()
	pipeline, err := services.NewPipeline(services.PipelineDeps{
		Store:       a.Store,
		Objects:     objects,
		Audio:       transcode.New(cfg.FFmpegBinary),
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Text:        vertex,
		Documents:   documents,
		Visualizer:  scenes,
	}, services.PipelineConfig{LanguageHint: cfg.SpeechLanguageHint})
	if err != nil {
		return nil, err
	}

	// Runs outlive the request that queued them; shutdown cancels this.
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.Dispatcher, err = jobs.NewDispatcher(baseCtx, jobs.Config{
		Workers:    cfg.PipelineWorkers,
		QueueDepth: cfg.PipelineQueueDepth,
	}, pipeline.Run)
	if err != nil {
		return nil, err
	}

	upload, err := services.NewUpload(a.Store, a.Dispatcher, services.UploadConfig{Dir: cfg.UploadDir, MaxBytes: cfg.MaxUploadBytes})
	if err != nil {
		return nil, err
	}
	if a.Sweeper, err = services.NewSweeper(a.Store, a.Dispatcher, services.SweeperConfig{StuckAfter: cfg.StuckAfter, UploadDir: cfg.UploadDir}); err != nil {
		return nil, err
	}

	a.Handlers = &services.HTTPHandlers{
		Upload:        upload,
		Status:        services.NewStatus(a.Store),
		Visualizer:    visualizer,
		JWTSecret:     []byte(cfg.JWTSecret),
		InternalToken: cfg.InternalToken,
	}
	slog.Info("Application initialized.",
		"recordsBackend", cfg.RecordsBackend,
		"storageBackend", cfg.StorageBackend,
		"workers", cfg.PipelineWorkers,
		"queueDepth", cfg.PipelineQueueDepth,
		"documentFormats", documents.Formats(),
		"remoteVisualizer", cfg.VisualizeURL != "",
	)
	return a, nil
}

// Close cancels running jobs, waits up to timeout for them to record their
// outcome and then releases every client.
func (a *App) Close(timeout time.Duration) error {
	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
