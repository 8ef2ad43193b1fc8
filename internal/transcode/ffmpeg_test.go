package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFFmpeg(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string{name}, args...)
		}
		helperArgs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], helperArgs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func TestExtractAudio(t *testing.T) {
	var args []string
	stubFFmpeg(t, "success", &args)

	source := filepath.Join(t.TempDir(), "lecture.mp4")
	out, err := New("/usr/bin/ffmpeg").ExtractAudio(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(source), "lecture-audio.ogg"), out)
	assert.FileExists(t, out)
	assert.Equal(t, "/usr/bin/ffmpeg", args[0])
	assert.Contains(t, args, "libopus")
	assert.Contains(t, args, "48000")
	assert.Equal(t, out, args[len(args)-1])
}

func TestExtractAudioFailure(t *testing.T) {
	stubFFmpeg(t, "failure", nil)

	source := filepath.Join(t.TempDir(), "broken.mov")
	_, err := New("").ExtractAudio(context.Background(), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stream map '0:a:0' matches no streams")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(source), "broken-audio.ogg"))
}

func TestExtractAudioEmptyOutput(t *testing.T) {
	stubFFmpeg(t, "empty", nil)

	_, err := New("").ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "silent.webm"))
	assert.True(t, errors.Is(err, ErrNoAudio))
}

func TestExtractAudioRequiresSource(t *testing.T) {
	_, err := New("").ExtractAudio(context.Background(), "")
	assert.Error(t, err)
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	dest := args[len(args)-1]

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		_ = os.WriteFile(dest, []byte("OggS"), 0o600)
		os.Exit(0)
	case "empty":
		_ = os.WriteFile(dest, nil, 0o600)
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "Stream map '0:a:0' matches no streams.")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
