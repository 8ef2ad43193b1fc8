package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of an upload's processing job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusProcessing || s.Terminal()
}

// FileCategory selects the processing branch for an upload. It is decided once,
// from the file extension, when the upload is accepted.
type FileCategory string

const (
	CategoryVideo    FileCategory = "video"
	CategoryDocument FileCategory = "document"
	CategoryOther    FileCategory = "other"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".webm": {}, ".flv": {},
	".wmv": {}, ".m4v": {}, ".mpg": {}, ".mpeg": {}, ".3gp": {}, ".vob": {},
	".ogv": {}, ".ts": {},
}

var documentExtensions = map[string]struct{}{
	".pdf":  {},
	".docx": {},
}

// Extension returns the lowercased extension of name, including the dot.
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
}

// ClassifyFile maps a file name to its processing category.
func ClassifyFile(name string) FileCategory {
	ext := Extension(name)
	if _, ok := videoExtensions[ext]; ok {
		return CategoryVideo
	}
	if _, ok := documentExtensions[ext]; ok {
		return CategoryDocument
	}
	return CategoryOther
}

// UploadRecord is the persistent record for one uploaded lesson file.
// Every artifact field is additive: once written it is never cleared.
type UploadRecord struct {
	ID                string       `firestore:"-" json:"id"`
	OwnerID           string       `firestore:"ownerId" json:"ownerId"`
	OriginalName      string       `firestore:"originalName" json:"originalName"`
	Category          FileCategory `firestore:"category" json:"category"`
	SourceLink        string       `firestore:"sourceLink" json:"sourceLink"`
	Status            Status       `firestore:"status" json:"status"`
	Transcript        *Transcript  `firestore:"transcript" json:"transcript"`
	ExtractedText     *string      `firestore:"extractedText" json:"extractedText"`
	AudioLink         *string      `firestore:"audioLink" json:"audioLink"`
	BlindFriendlyLink *string      `firestore:"blindFriendlyLink" json:"blindFriendlyLink"`
	DyslexiaFriendly  []Scene      `firestore:"dyslexiaFriendly" json:"dyslexiaFriendly"`
	ErrorDetails      string       `firestore:"errorDetails,omitempty" json:"-"`
	CreatedAt         time.Time    `firestore:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time    `firestore:"updatedAt" json:"updatedAt"`
	CompletedAt       *time.Time   `firestore:"completedAt" json:"completedAt,omitempty"`
}

// Transcript is the speech recognition result for a video's audio track.
type Transcript struct {
	Text         string `firestore:"text" json:"text"`
	Words        []Word `firestore:"words" json:"words"`
	LanguageCode string `firestore:"languageCode" json:"languageCode"`
}

// Word carries word-level timing, in seconds from the start of the audio.
type Word struct {
	Word         string  `firestore:"word" json:"word"`
	StartSeconds float64 `firestore:"startSeconds" json:"startSeconds"`
	EndSeconds   float64 `firestore:"endSeconds" json:"endSeconds"`
}

// Scene is one illustrated segment of a lesson's narration.
type Scene struct {
	Title       string  `firestore:"title" json:"title"`
	Description string  `firestore:"description" json:"description"`
	KeyIdea     string  `firestore:"keyIdea" json:"keyIdea"`
	ImagePrompt string  `firestore:"imagePrompt" json:"imagePrompt"`
	ImageURL    *string `firestore:"imageUrl" json:"imageUrl"`
	SceneNumber int     `firestore:"sceneNumber" json:"sceneNumber"`
	Error       string  `firestore:"error,omitempty" json:"error,omitempty"`
}

// StatusMessage is the user-facing description of a status.
func StatusMessage(s Status) string {
	switch s {
	case StatusCompleted:
		return "Processing completed successfully."
	case StatusFailed:
		return "Processing failed. Please upload the file again."
	default:
		return "Your file is still being processed."
	}
}
