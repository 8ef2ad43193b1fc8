// Package docextract turns uploaded documents into plain text. Each format
// is handled by its own Extractor registered under a file extension.
package docextract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrUnsupportedFormat = errors.New("no extractor registered for format")

// Extractor returns the plain text of the document at path. An empty result
// with a nil error means the document has no extractable text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// NewDefaultRegistry returns a registry with the DOCX and PDF extractors.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".docx", DocxExtractor{})
	r.Register(".pdf", NewPDFExtractor())
	return r
}

// Register binds ext (with or without the leading dot, any case) to e,
// replacing any previous binding.
func (r *Registry) Register(ext string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[normalizeExt(ext)] = e
}

// Formats lists the registered extensions.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract picks the extractor by the extension of name and runs it on path.
// name is the original upload name; path may be a uuid-named temp file.
func (r *Registry) Extract(ctx context.Context, name, path string) (string, error) {
	ext := normalizeExt(filepath.Ext(name))
	r.mu.RLock()
	e, ok := r.extractors[ext]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	text, err := e.Extract(ctx, path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	return text, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
