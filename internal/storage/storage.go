package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/contactbook/apiserver/config"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	Bucket() string
}

// AvatarStore wraps an ObjectStorage backend with the avatar-centric
// API the user service needs.
type AvatarStore struct {
	backend ObjectStorage
}

// NewAvatarStore constructs an AvatarStore for the provided backend.
func NewAvatarStore(backend ObjectStorage) *AvatarStore {
	return &AvatarStore{backend: backend}
}

// NewFromConfig constructs an AvatarStore with the configured backend.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (*AvatarStore, error) {
	switch cfg.Backend {
	case "minio":
		backend, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return NewAvatarStore(backend), nil
	case "gcs":
		backend, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return NewAvatarStore(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *AvatarStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// SaveAvatar uploads the image under key and returns its public URL.
func (s *AvatarStore) SaveAvatar(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return s.backend.URL(key), nil
}

// Open returns a reader for a stored avatar.
func (s *AvatarStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Remove deletes a stored avatar.
func (s *AvatarStore) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *AvatarStore) Bucket() string {
	return s.backend.Bucket()
}
