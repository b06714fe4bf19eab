// Package storage abstracts the object store the published orders dataset
// lives in when the service reads parquet instead of a local DuckDB file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Ping(ctx context.Context) error
}

// Download copies the object at key into localPath and returns the number of
// bytes written.
func Download(ctx context.Context, store ObjectStore, key, localPath string) (int64, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", localPath, err)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil {
		return written, fmt.Errorf("copy object %q: %w", key, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %q: %w", localPath, closeErr)
	}
	return written, nil
}
