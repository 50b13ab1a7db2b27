package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

const uploadDir = "./uploads" // Local directory for blob storage in dev

// BlobStore persists evidence and signature images and returns a URL
// for each stored object.
type BlobStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// NewBlobStore picks GCS in production and local disk in development,
// mirroring how file uploads choose a backend.
func NewBlobStore() BlobStore {
	useGCS := os.Getenv("USE_GCS") == "true" ||
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" ||
		os.Getenv("K_SERVICE") != "" // Cloud Run indicator

	if useGCS {
		return &GCSBlobStore{Bucket: os.Getenv("GCS_BUCKET")}
	}
	return &LocalBlobStore{Dir: uploadDir}
}

// GCSBlobStore stores objects in a Google Cloud Storage bucket.
// Assumes Application Default Credentials are configured.
type GCSBlobStore struct {
	Bucket string
}

func (s *GCSBlobStore) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := client.Bucket(s.Bucket).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %q: %w", objectName, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.Bucket, objectName), nil
}

// LocalBlobStore stores objects under a local directory and serves them
// through the /uploads/ static route.
type LocalBlobStore struct {
	Dir string
}

func (s *LocalBlobStore) Put(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.Dir, filepath.FromSlash(objectName))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write file %q: %w", path, err)
	}
	return "/uploads/" + objectName, nil
}
