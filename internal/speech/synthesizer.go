package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	ttsapi "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// maxChunkBytes stays below the 5000 byte request limit of the service.
const maxChunkBytes = 4500

// Synthesizer turns narration text into an MP3 file on local disk.
type Synthesizer struct {
	client       *ttsapi.Client
	languageCode string
	voiceName    string
	tempDir      string
	synthesize   func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
}

func NewSynthesizer(ctx context.Context, languageCode, voiceName string) (*Synthesizer, error) {
	client, err := ttsapi.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	s := &Synthesizer{client: client, languageCode: languageCode, voiceName: voiceName}
	s.synthesize = func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return client.SynthesizeSpeech(ctx, req)
	}
	return s, nil
}

// Synthesize writes the spoken form of text to a new temp MP3 file and returns
// its path. The caller owns the file. Long input is split on sentence
// boundaries and the MP3 segments are concatenated.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	chunks := ChunkText(text, maxChunkBytes)
	if len(chunks) == 0 {
		return "", fmt.Errorf("nothing to synthesize")
	}

	out, err := os.CreateTemp(s.tempDir, "narration-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create narration file: %w", err)
	}
	path := out.Name()
	ok := false
	defer func() {
		_ = out.Close()
		if !ok {
			_ = os.Remove(path)
		}
	}()

	for i, chunk := range chunks {
		resp, err := s.synthesize(ctx, s.request(chunk))
		if err != nil {
			return "", fmt.Errorf("speech synthesis failed on chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if _, err := out.Write(resp.GetAudioContent()); err != nil {
			return "", fmt.Errorf("failed to write narration audio: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close narration file: %w", err)
	}

	ok = true
	slog.Info("Narration audio synthesized.", "path", path, "chunks", len(chunks))
	return path, nil
}

func (s *Synthesizer) request(text string) *texttospeechpb.SynthesizeSpeechRequest {
	voice := &texttospeechpb.VoiceSelectionParams{
		LanguageCode: s.languageCode,
		SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
	}
	if s.voiceName != "" {
		voice.Name = s.voiceName
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}
}

func (s *Synthesizer) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ChunkText splits text into pieces of at most limit bytes, preferring
// sentence ends, then whitespace. Words longer than limit are hard split on
// rune boundaries.
func ChunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(text) {
		if current.Len()+len(sentence) <= limit {
			current.WriteString(sentence)
			continue
		}
		flush()
		if len(sentence) <= limit {
			current.WriteString(sentence)
			continue
		}
		for _, word := range strings.SplitAfter(sentence, " ") {
			if current.Len()+len(word) > limit {
				flush()
			}
			for len(word) > limit {
				cut := runeBoundary(word, limit)
				chunks = append(chunks, word[:cut])
				word = word[cut:]
			}
			current.WriteString(word)
		}
	}
	flush()
	return chunks
}

// splitSentences keeps the terminator and trailing whitespace with each
// sentence so joining the parts gives back the input.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if i < start || (r != '.' && r != '!' && r != '?') {
			continue
		}
		end := i + 1
		if end < len(text) && !unicode.IsSpace(rune(text[end])) {
			continue
		}
		for end < len(text) && unicode.IsSpace(rune(text[end])) {
			end++
		}
		out = append(out, text[start:end])
		start = end
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
