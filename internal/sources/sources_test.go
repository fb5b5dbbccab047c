package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockObjectStore is a mock implementation of ObjectStore.
type MockObjectStore struct {
	FetchFunc func(ctx context.Context, bucket, object string) ([]byte, error)
	PutFunc   func(ctx context.Context, bucket, object string, data []byte) error
}

func (m *MockObjectStore) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	return m.FetchFunc(ctx, bucket, object)
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, object string, data []byte) error {
	return m.PutFunc(ctx, bucket, object, data)
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://statements/2025/march.pdf", "statements", "2025/march.pdf", false},
		{"gs://statements/a.csv", "statements", "a.csv", false},
		{"gs://statements", "", "", true},
		{"gs://statements/", "", "", true},
		{"s3://statements/a.csv", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

func TestFilenameOf(t *testing.T) {
	assert.Equal(t, "file.pdf", FilenameOf("gs://bucket/folder/file.pdf"))
	assert.Equal(t, "bucket", FilenameOf("gs://bucket"))
	assert.Equal(t, "march.csv", FilenameOf(filepath.Join("data", "march.csv")))
}

func TestLoader_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "march.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Merchant,Amount\n"), 0o644))

	src, err := NewLoader(nil).Load(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "march.csv", src.Name)
	assert.Equal(t, "Date,Merchant,Amount\n", string(src.Data))
	assert.Empty(t, src.Format)

	_, err = NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLoader_GCS(t *testing.T) {
	store := &MockObjectStore{FetchFunc: func(_ context.Context, bucket, object string) ([]byte, error) {
		if object == "missing.json" {
			return nil, errors.New("object doesn't exist")
		}
		assert.Equal(t, "uploads", bucket)
		return []byte(`[{"a":1}]`), nil
	}}
	l := NewLoader(store)

	srcs, err := l.LoadAll(context.Background(), []string{"gs://uploads/jan/tx.json"})
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "tx.json", srcs[0].Name)

	_, err = l.LoadAll(context.Background(), []string{"gs://uploads/jan/tx.json", "gs://uploads/missing.json"})
	assert.ErrorContains(t, err, "gs://uploads/missing.json")

	_, err = NewLoader(nil).Load(context.Background(), "gs://uploads/a.csv")
	assert.ErrorIs(t, err, ErrNoObjectStore)
}

func TestLoader_Save(t *testing.T) {
	var gotBucket, gotObject string
	var gotData []byte
	store := &MockObjectStore{PutFunc: func(_ context.Context, bucket, object string, data []byte) error {
		gotBucket, gotObject, gotData = bucket, object, data
		return nil
	}}
	l := NewLoader(store)

	require.NoError(t, l.Save(context.Background(), "gs://results/out/enriched.json", []byte("[]")))
	assert.Equal(t, "results", gotBucket)
	assert.Equal(t, "out/enriched.json", gotObject)
	assert.Equal(t, "[]", string(gotData))

	path := filepath.Join(t.TempDir(), "enriched.json")
	require.NoError(t, l.Save(context.Background(), path, []byte("{}")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
