// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and record-store backends.
const (
	StorageGCS = "gcs"
	StorageS3  = "s3"

	RecordsFirestore = "firestore"
	RecordsPostgres  = "postgres"
	RecordsMemory    = "memory"
)

var envFiles = []string{".env.local", ".env"}

// Config holds every setting the API, pipeline and sweeper need.
type Config struct {
	Port     string
	LogLevel slog.Level

	ProjectID      string
	VertexAIRegion string
	TextModel      string

	StorageBackend string
	MediaBucket    string
	PublicBaseURL  string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	RecordsBackend      string
	FirestoreDatabase   string
	FirestoreCollection string
	DatabaseURL         string

	SpeechLanguageHint string
	SpeechAltLanguages []string
	TTSLanguageCode    string
	TTSVoiceName       string

	ImageAPIURL   string
	ImageAPIKey   string
	ImageModel    string
	ImageSize     string
	ImageAttempts int

	FFmpegBinary string

	// VisualizeURL points the pipeline at a remote HandleVisualize. Empty
	// means scenes are generated in-process.
	VisualizeURL  string
	InternalToken string

	JWTSecret      string
	UploadDir      string
	MaxUploadBytes int64

	PipelineWorkers    int
	PipelineQueueDepth int
	StuckAfter         time.Duration
	SweepInterval      time.Duration
}

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// LoadDotEnv loads .env.local and .env from the working directory when they
// exist. Variables already present in the environment win.
func LoadDotEnv() error {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// Load builds a Config from the environment and validates it.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForSweeper builds a Config for the sweep function, which only needs
// the record store settings.
func LoadForSweeper() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := errors.Join(cfg.validateRecords()...); err != nil {
		return nil, err
	}
	if cfg.StuckAfter <= 0 {
		return nil, errors.New("STUCK_AFTER must be positive")
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                GetEnv("PORT", "8080"),
		ProjectID:           GetEnv("PROJECT_ID", ""),
		VertexAIRegion:      GetEnv("VERTEX_AI_REGION", "us-central1"),
		TextModel:           GetEnv("TEXT_MODEL", "gemini-1.5-pro"),
		StorageBackend:      strings.ToLower(GetEnv("STORAGE_BACKEND", StorageGCS)),
		MediaBucket:         GetEnv("MEDIA_BUCKET", ""),
		PublicBaseURL:       GetEnv("PUBLIC_BASE_URL", ""),
		S3Region:            GetEnv("S3_REGION", "us-east-1"),
		S3Endpoint:          GetEnv("S3_ENDPOINT", ""),
		S3AccessKey:         GetEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:         GetEnv("S3_SECRET_KEY", ""),
		RecordsBackend:      strings.ToLower(GetEnv("RECORDS_BACKEND", RecordsFirestore)),
		FirestoreDatabase:   GetEnv("FIRESTORE_DATABASE", "(default)"),
		FirestoreCollection: GetEnv("FIRESTORE_COLLECTION", "uploads"),
		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		SpeechLanguageHint:  GetEnv("SPEECH_LANGUAGE_HINT", "en-US"),
		SpeechAltLanguages:  splitList(GetEnv("SPEECH_ALT_LANGUAGES", "pl-PL,de-DE,fr-FR")),
		TTSLanguageCode:     GetEnv("TTS_LANGUAGE_CODE", "en-US"),
		TTSVoiceName:        GetEnv("TTS_VOICE_NAME", ""),
		ImageAPIURL:         GetEnv("IMAGE_API_URL", "https://api.openai.com/v1/images/generations"),
		ImageAPIKey:         GetEnv("IMAGE_API_KEY", ""),
		ImageModel:          GetEnv("IMAGE_MODEL", "dall-e-3"),
		ImageSize:           GetEnv("IMAGE_SIZE", "1024x1024"),
		FFmpegBinary:        GetEnv("FFMPEG_BINARY", "ffmpeg"),
		VisualizeURL:        GetEnv("VISUALIZE_URL", ""),
		InternalToken:       GetEnv("INTERNAL_TOKEN", ""),
		JWTSecret:           GetEnv("JWT_SECRET", ""),
		UploadDir:           GetEnv("UPLOAD_DIR", os.TempDir()),
	}

	var err error
	if cfg.LogLevel, err = parseLevel(GetEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.ImageAttempts, err = intEnv("IMAGE_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.PipelineWorkers, err = intEnv("PIPELINE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.PipelineQueueDepth, err = intEnv("PIPELINE_QUEUE_DEPTH", 64); err != nil {
		return nil, err
	}
	maxUpload, err := intEnv("MAX_UPLOAD_BYTES", 500<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.StuckAfter, err = durationEnv("STUCK_AFTER", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable must be set"))
	}
	switch c.StorageBackend {
	case StorageGCS:
		if c.MediaBucket == "" {
			errs = append(errs, errors.New("MEDIA_BUCKET environment variable must be set"))
		}
	case StorageS3:
		if c.MediaBucket == "" || c.S3Region == "" {
			errs = append(errs, errors.New("MEDIA_BUCKET and S3_REGION must be set for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	errs = append(errs, c.validateRecords()...)
	if c.ProjectID == "" && c.RecordsBackend != RecordsFirestore {
		errs = append(errs, errors.New("PROJECT_ID environment variable must be set"))
	}
	if c.PipelineWorkers <= 0 {
		errs = append(errs, errors.New("PIPELINE_WORKERS must be positive"))
	}
	if c.ImageAttempts <= 0 {
		errs = append(errs, errors.New("IMAGE_ATTEMPTS must be positive"))
	}
	if c.StuckAfter <= 0 {
		errs = append(errs, errors.New("STUCK_AFTER must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateRecords() []error {
	switch c.RecordsBackend {
	case RecordsFirestore:
		if c.ProjectID == "" {
			return []error{errors.New("PROJECT_ID environment variable must be set")}
		}
	case RecordsPostgres:
		if c.DatabaseURL == "" {
			return []error{errors.New("DATABASE_URL must be set for the postgres backend")}
		}
	case RecordsMemory:
	default:
		return []error{fmt.Errorf("unknown RECORDS_BACKEND %q", c.RecordsBackend)}
	}
	return nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(GetEnv(key, ""))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
