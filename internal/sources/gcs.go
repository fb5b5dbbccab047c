package sources

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore reads and writes whole objects in a bucket.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Fetch downloads the bytes of bucket/object.
	Fetch(ctx context.Context, bucket, object string) ([]byte, error)

	// Put writes data to bucket/object, replacing it.
	Put(ctx context.Context, bucket, object string, data []byte) error
}

// GCSStore is the Google Cloud Storage implementation of ObjectStore.
// The client is created on first use with Application Default Credentials.
type GCSStore struct {
	once   sync.Once
	client *storage.Client
	err    error
}

// NewGCSStore creates a GCSStore.
func NewGCSStore() *GCSStore {
	return &GCSStore{}
}

func (s *GCSStore) storageClient(ctx context.Context) (*storage.Client, error) {
	s.once.Do(func() {
		s.client, s.err = storage.NewClient(ctx)
		if s.err != nil {
			s.err = fmt.Errorf("create storage client: %w", s.err)
		}
	})
	return s.client, s.err
}

// Fetch implements ObjectStore.
func (s *GCSStore) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	client, err := s.storageClient(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Put implements ObjectStore.
func (s *GCSStore) Put(ctx context.Context, bucket, object string, data []byte) error {
	client, err := s.storageClient(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		w.ContentType = "application/json"
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy data to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close releases the client if one was created.
func (s *GCSStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
