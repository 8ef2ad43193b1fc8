package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExtraction    = errors.New("extraction error")
	ErrGeneration    = errors.New("generation error")
	ErrStorage       = errors.New("storage error")
	ErrTranscode     = errors.New("transcode error")
	ErrVisualization = errors.New("visualization error")
	ErrConfiguration = errors.New("configuration error")
	ErrForbidden     = errors.New("forbidden")
	ErrValidation    = errors.New("validation error")
)

// Wrap tags err with a marker from the list above and prefixes it with the
// stage and operation that produced it.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrGeneration
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
