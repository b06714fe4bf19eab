package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/askdata/askdata/internal/storage"
)

func TestPutJoinsPrefixAndKey(t *testing.T) {
	fake := &fakeBackend{bucketExists: true}
	store, err := newStore("askdata", "/datasets/prod/", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/orders/orders.parquet", bytes.NewBufferString("PAR1"), 4, storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastBucket != "askdata" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
	if fake.lastKey != "datasets/prod/orders/orders.parquet" {
		t.Fatalf("key = %q", fake.lastKey)
	}
	if fake.lastContentType != "application/vnd.apache.parquet" {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
}

func TestObjectKeyRejectsTraversal(t *testing.T) {
	store, err := newStore("askdata", "", &fakeBackend{})
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	for _, key := range []string{"../secrets.txt", "..", "", "  /  "} {
		if _, err := store.objectKey(key); err == nil {
			t.Fatalf("objectKey(%q) error = nil", key)
		}
	}
	got, err := store.objectKey("datasets/./orders/../orders/orders.parquet")
	if err != nil || got != "datasets/orders/orders.parquet" {
		t.Fatalf("objectKey() = %q, %v", got, err)
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, _ := newStore("askdata", "", &fakeBackend{objects: map[string]string{}})
	_, err := store.Get(context.Background(), "datasets/orders/orders.parquet")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDownloadThroughStore(t *testing.T) {
	fake := &fakeBackend{objects: map[string]string{"mirror/orders.parquet": "PAR1body"}}
	store, _ := newStore("askdata", "mirror", fake)

	target := t.TempDir() + "/orders.parquet"
	written, err := storage.Download(context.Background(), store, "orders.parquet", target)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if written != int64(len("PAR1body")) {
		t.Fatalf("Download() written = %d", written)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeBackend{bucketExists: false}
	store, err := newStore("askdata", "", fake)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !fake.madeBucket {
		t.Fatal("expected MakeBucket to be called")
	}
}

func TestPing(t *testing.T) {
	store, _ := newStore("askdata", "", &fakeBackend{bucketExists: false})
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("Ping() error = nil for missing bucket")
	}
	store, _ = newStore("askdata", "", &fakeBackend{bucketExists: true})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("parseEndpoint() = %q/%v/%v", endpoint, secure, err)
	}
	if _, _, err := parseEndpoint("http://", false); err == nil {
		t.Fatal("parseEndpoint() without host error = nil")
	}
}

type fakeBackend struct {
	objects         map[string]string
	lastBucket      string
	lastKey         string
	lastContentType string
	bucketExists    bool
	madeBucket      bool
}

func (f *fakeBackend) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	f.lastBucket = bucket
	f.lastKey = key
	f.lastContentType = contentType
	_, _ = io.Copy(io.Discard, reader)
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeBackend) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBackend) StatObject(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	body, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(body)), LastModified: time.Now().UTC()}, nil
}

func (f *fakeBackend) BucketExists(context.Context, string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeBackend) MakeBucket(context.Context, string, string) error {
	f.madeBucket = true
	return nil
}
