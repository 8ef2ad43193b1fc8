// Package transcode shells out to ffmpeg to pull audio tracks out of videos.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var commandContext = exec.CommandContext

var ErrNoAudio = errors.New("ffmpeg produced no audio output")

// FFmpeg extracts speech-recognition-ready audio.
type FFmpeg struct {
	binary string
}

func New(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// ExtractAudio writes the first audio stream of source as mono 48 kHz
// Opus in an Ogg container next to source and returns the new file's path.
// The caller owns the returned file.
func (f *FFmpeg) ExtractAudio(ctx context.Context, source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("extract audio: source path is empty")
	}
	dest := strings.TrimSuffix(source, filepath.Ext(source)) + "-audio.ogg"

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "48000",
		"-c:a", "libopus",
		"-b:a", "48k",
		dest,
	}
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(dest)
		return "", ErrNoAudio
	}
	return dest, nil
}
