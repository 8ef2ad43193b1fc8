// Package storage uploads pipeline artifacts to durable object storage and
// returns both a public URL and a backend-internal locator.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is a destination hint. It only selects the object prefix and the
// cache-control metadata; upload semantics are identical for all categories.
type Category string

const (
	CategoryAudio  Category = "audio"
	CategoryImages Category = "images"
)

var cacheControl = map[Category]string{
	CategoryAudio:  "public, max-age=31536000, immutable",
	CategoryImages: "public, max-age=31536000, immutable",
}

// knownTypes covers artifact types missing from Go's builtin mime table.
var knownTypes = map[string]string{
	".mp3": "audio/mpeg",
	".ogg": "audio/ogg",
	".png": "image/png",
}

// Gateway uploads a local file or an in-memory buffer.
type Gateway interface {
	Upload(ctx context.Context, src Source, category Category) (*Object, error)
}

// Object describes an uploaded artifact.
type Object struct {
	// PublicURL is what clients use to fetch the artifact.
	PublicURL string
	// StorageURI is the backend locator, e.g. gs://bucket/name, which cloud
	// services such as speech recognition read from directly.
	StorageURI string
	Name       string
}

// Source is either a local file (Path) or a named buffer (Name + Data).
// ObjectName, when set, is used verbatim instead of a generated name.
type Source struct {
	Path        string
	Name        string
	Data        []byte
	ContentType string
	ObjectName  string
}

// FileSource returns a Source reading from a local path.
func FileSource(path string) Source {
	return Source{Path: path}
}

// BytesSource returns a Source for an in-memory buffer.
func BytesSource(name string, data []byte, contentType string) Source {
	return Source{Name: name, Data: data, ContentType: contentType}
}

func (s Source) baseName() string {
	if s.Name != "" {
		return filepath.Base(s.Name)
	}
	return filepath.Base(s.Path)
}

func (s Source) contentType() string {
	if s.ContentType != "" {
		return s.ContentType
	}
	ext := strings.ToLower(filepath.Ext(s.baseName()))
	if ct, ok := knownTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// open returns a fresh reader for each upload attempt.
func (s Source) open() (io.ReadCloser, error) {
	if s.Path == "" {
		if s.Data == nil {
			return nil, fmt.Errorf("source %q has neither a path nor data", s.Name)
		}
		return io.NopCloser(bytes.NewReader(s.Data)), nil
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("could not open local file %s: %w", s.Path, err)
	}
	return f, nil
}

func (s Source) validate() error {
	if s.Path == "" && s.Data == nil {
		return fmt.Errorf("storage: empty source")
	}
	return nil
}

// namer builds collision-free object names.
type namer struct {
	now   func() time.Time
	newID func() string
}

func defaultNamer() namer {
	return namer{now: time.Now, newID: uuid.NewString}
}

// nameFor returns src.ObjectName or a generated name.
func (n namer) nameFor(category Category, src Source) string {
	if name := strings.TrimPrefix(src.ObjectName, "/"); name != "" {
		return name
	}
	return n.objectName(category, src.baseName())
}

// objectName returns {category}/{yyyy}/{mm}/{id}-{sanitized base name}.
func (n namer) objectName(category Category, baseName string) string {
	t := n.now().UTC()
	prefix := string(category)
	if prefix == "" {
		prefix = "misc"
	}
	return path.Join(prefix, t.Format("2006"), t.Format("01"), n.newID()+"-"+SanitizeFileName(baseName))
}

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeFileName lowercases a file name and reduces it to a safe object
// name component, keeping the extension.
func SanitizeFileName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(strings.ToLower(filepath.Base(name)), ext)
	stem = strings.Trim(nonAlphanumericRegex.ReplaceAllString(stem, "_"), "_")

	const maxLength = 100
	if len(stem) > maxLength {
		stem = strings.Trim(stem[:maxLength], "_")
	}
	if stem == "" {
		stem = "file"
	}
	ext = nonAlphanumericRegex.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func cacheControlFor(category Category) string {
	if cc, ok := cacheControl[category]; ok {
		return cc
	}
	return "no-cache"
}

func publicURL(base, object string) string {
	return strings.TrimSuffix(base, "/") + "/" + object
}
