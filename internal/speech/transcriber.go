// Package speech wraps Google Cloud Speech-to-Text and Text-to-Speech.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// ErrNoSpeech is returned when recognition finished but produced no text.
var ErrNoSpeech = errors.New("no speech recognized")

// The audio track is produced by the transcode package with these settings.
const (
	audioSampleRate = 48000
	audioChannels   = 1
)

// Transcriber runs long-running recognition against audio already in Cloud
// Storage.
type Transcriber struct {
	client       *speechapi.Client
	altLanguages []string
	recognize    func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
}

func NewTranscriber(ctx context.Context, altLanguages []string) (*Transcriber, error) {
	client, err := speechapi.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	t := &Transcriber{client: client, altLanguages: altLanguages}
	t.recognize = func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	}
	return t, nil
}

// Transcribe recognizes speech in the Ogg/Opus object at storageURI (gs://).
// languageHint is the primary BCP-47 code; the configured alternatives are
// offered to the service for auto-detection.
func (t *Transcriber) Transcribe(ctx context.Context, storageURI, languageHint string) (*models.Transcript, error) {
	if !strings.HasPrefix(storageURI, "gs://") {
		return nil, fmt.Errorf("speech recognition needs a gs:// URI, got %q", storageURI)
	}
	req := buildRecognizeRequest(storageURI, languageHint, t.altLanguages)

	slog.Info("Starting speech recognition.", "audioUri", storageURI, "languageCode", req.Config.LanguageCode)
	resp, err := t.recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech recognition failed for %s: %w", storageURI, err)
	}

	transcript := transcriptFromResponse(resp, req.Config.LanguageCode)
	if strings.TrimSpace(transcript.Text) == "" {
		return nil, ErrNoSpeech
	}
	slog.Info("Speech recognition finished.", "audioUri", storageURI, "words", len(transcript.Words))
	return transcript, nil
}

func (t *Transcriber) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func buildRecognizeRequest(uri, languageHint string, alternatives []string) *speechpb.LongRunningRecognizeRequest {
	if languageHint == "" {
		languageHint = "en-US"
	}
	var alt []string
	for _, code := range alternatives {
		if !strings.EqualFold(code, languageHint) {
			alt = append(alt, code)
		}
	}
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_OGG_OPUS,
			SampleRateHertz:            audioSampleRate,
			AudioChannelCount:          audioChannels,
			LanguageCode:               languageHint,
			AlternativeLanguageCodes:   alt,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri},
		},
	}
}

// transcriptFromResponse joins the top alternative of every result. The
// detected language of the first result wins over the hint.
func transcriptFromResponse(resp *speechpb.LongRunningRecognizeResponse, fallbackLanguage string) *models.Transcript {
	out := &models.Transcript{LanguageCode: fallbackLanguage}
	if resp == nil {
		return out
	}

	var parts []string
	detected := false
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		best := alts[0]
		if text := strings.TrimSpace(best.GetTranscript()); text != "" {
			parts = append(parts, text)
		}
		for _, w := range best.GetWords() {
			out.Words = append(out.Words, models.Word{
				Word:         w.GetWord(),
				StartSeconds: w.GetStartTime().AsDuration().Seconds(),
				EndSeconds:   w.GetEndTime().AsDuration().Seconds(),
			})
		}
		if !detected && result.GetLanguageCode() != "" {
			out.LanguageCode = result.GetLanguageCode()
			detected = true
		}
	}
	out.Text = strings.Join(parts, " ")
	return out
}
