package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MEDIA_BUCKET", "lessons-media")
	t.Setenv("PROJECT_ID", "demo-project")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorageGCS, cfg.StorageBackend)
	assert.Equal(t, RecordsFirestore, cfg.RecordsBackend)
	assert.Equal(t, 3, cfg.ImageAttempts)
	assert.Equal(t, 4, cfg.PipelineWorkers)
	assert.Equal(t, 2*time.Hour, cfg.StuckAfter)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Empty(t, cfg.VisualizeURL)
	assert.Equal(t, []string{"pl-PL", "de-DE", "fr-FR"}, cfg.SpeechAltLanguages)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RECORDS_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/lessons")
	t.Setenv("STUCK_AFTER", "45m")
	t.Setenv("PIPELINE_WORKERS", "8")
	t.Setenv("VISUALIZE_URL", "https://scenes.example.com/HandleVisualize")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, RecordsPostgres, cfg.RecordsBackend)
	assert.Equal(t, 45*time.Minute, cfg.StuckAfter)
	assert.Equal(t, 8, cfg.PipelineWorkers)
	assert.Equal(t, "https://scenes.example.com/HandleVisualize", cfg.VisualizeURL)
}

func TestLoad_MissingRequired(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MEDIA_BUCKET", "")
	t.Setenv("PROJECT_ID", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "MEDIA_BUCKET")
	assert.Contains(t, err.Error(), "PROJECT_ID")
}

func TestLoad_NonPositiveSweepInterval(t *testing.T) {
	for _, raw := range []string{"0s", "-5m"} {
		t.Run(raw, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("SWEEP_INTERVAL", raw)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "SWEEP_INTERVAL must be positive")
		})
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("IMAGE_ATTEMPTS", "three")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGE_ATTEMPTS")
}

func TestLoad_UnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_BACKEND", "ftp")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LESSONS_TEST_A=from-file\nLESSONS_TEST_B=from-file\n"), 0o600))
	t.Setenv("LESSONS_TEST_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("LESSONS_TEST_B") })

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "from-env", os.Getenv("LESSONS_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("LESSONS_TEST_B"))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("LESSONS_SET", "value")
	assert.Equal(t, "value", GetEnv("LESSONS_SET", "fallback"))
	assert.Equal(t, "fallback", GetEnv("LESSONS_SURELY_UNSET", "fallback"))
}

func TestLoadForSweeper(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MEDIA_BUCKET", "")
	t.Setenv("RECORDS_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/lessons")
	t.Setenv("STUCK_AFTER", "30m")

	cfg, err := LoadForSweeper()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.StuckAfter)

	t.Setenv("DATABASE_URL", "")
	_, err = LoadForSweeper()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
