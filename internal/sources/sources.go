// Package sources loads import files from local paths or bucket URIs and
// writes results back to either.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
)

const gcsScheme = "gs://"

// ErrNoObjectStore is returned for bucket URIs when no store is configured.
var ErrNoObjectStore = errors.New("no object store configured for gs:// URIs")

// Loader resolves URIs to sources.
type Loader struct {
	store ObjectStore
}

// NewLoader creates a Loader. store may be nil when only local paths are used.
func NewLoader(store ObjectStore) *Loader {
	return &Loader{store: store}
}

// IsGCSURI reports whether uri names a bucket object.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, gcsScheme)
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameOf returns the base name of a local path or bucket URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameOf(uri string) string {
	if IsGCSURI(uri) {
		trimmed := strings.TrimPrefix(uri, gcsScheme)
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	return filepath.Base(uri)
}

// Load reads uri into a Source named after its file. The format is left for
// the registry to infer from the name.
func (l *Loader) Load(ctx context.Context, uri string) (ingest.Source, error) {
	data, err := l.read(ctx, uri)
	if err != nil {
		return ingest.Source{}, err
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("Loaded source")
	return ingest.Source{Name: FilenameOf(uri), Data: data}, nil
}

// LoadAll loads every URI, stopping at the first failure.
func (l *Loader) LoadAll(ctx context.Context, uris []string) ([]ingest.Source, error) {
	out := make([]ingest.Source, 0, len(uris))
	for _, uri := range uris {
		src, err := l.Load(ctx, uri)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Save writes data to a local path or bucket URI.
func (l *Loader) Save(ctx context.Context, uri string, data []byte) error {
	if !IsGCSURI(uri) {
		if err := os.WriteFile(uri, data, 0o644); err != nil {
			return fmt.Errorf("write %q: %w", uri, err)
		}
		return nil
	}
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return err
	}
	if l.store == nil {
		return ErrNoObjectStore
	}
	if err := l.store.Put(ctx, bucket, object, data); err != nil {
		return fmt.Errorf("upload %s: %w", uri, err)
	}
	return nil
}

func (l *Loader) read(ctx context.Context, uri string) ([]byte, error) {
	if !IsGCSURI(uri) {
		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, fmt.Errorf("open file %q: %w", uri, err)
		}
		return data, nil
	}
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if l.store == nil {
		return nil, ErrNoObjectStore
	}
	data, err := l.store.Fetch(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	return data, nil
}
