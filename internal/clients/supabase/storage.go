package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const DefaultBucket = "ai-transcriber-audio"

type Config struct {
	URL        string
	ServiceKey string
	Bucket     string
}

// objectAPI is the part of the storage-go client used here.
type objectAPI interface {
	DownloadFile(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
}

// Storage is the audio blob store on one Supabase storage bucket.
type Storage struct {
	log    *logger.Logger
	base   string
	bucket string
	api    objectAPI
}

func NewStorage(log *logger.Logger, cfg Config) (*Storage, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing env var SUPABASE_URL")
	}
	key := strings.TrimSpace(cfg.ServiceKey)
	if key == "" {
		return nil, fmt.Errorf("missing env var SUPABASE_SERVICE_KEY")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	api := storage_go.NewClient(base+"/storage/v1", key, map[string]string{"apikey": key})
	return &Storage{
		log:    log.With("service", "SupabaseStorage"),
		base:   base,
		bucket: cfg.Bucket,
		api:    api,
	}, nil
}

func (s *Storage) Name() string { return "supabase" }

func (s *Storage) Bucket() string { return s.bucket }

// ResumableEndpoint is the TUS endpoint of the storage API.
func (s *Storage) ResumableEndpoint() string { return ResumableURL(s.base) }

// ResumableURL derives the TUS endpoint from a project URL.
func ResumableURL(projectURL string) string {
	return strings.TrimRight(strings.TrimSpace(projectURL), "/") + "/storage/v1/upload/resumable"
}

// Download buffers the whole object; the storage client has no streaming
// download.
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	var data []byte
	err := withContext(ctx, func() error {
		var err error
		data, err = s.api.DownloadFile(url.PathEscape(s.bucket), escapePath(key))
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("supabase download %s/%s: %w", s.bucket, key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes one object. The storage API reports success with an empty
// list when nothing matched, which is mapped to ErrBlobNotFound.
func (s *Storage) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	var removed []storage_go.FileUploadResponse
	err := withContext(ctx, func() error {
		var err error
		removed, err = s.api.RemoveFile(url.PathEscape(s.bucket), []string{key})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, s.bucket, key)
		}
		return fmt.Errorf("supabase delete %s/%s: %w", s.bucket, key, err)
	}
	if len(removed) == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, s.bucket, key)
	}
	return nil
}

// withContext runs fn, returning early when ctx ends first. fn keeps running
// in the background until its request finishes.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// isNotFound matches the storage API's missing-object reply, which comes back
// as HTTP 400 with a "not_found" body.
func isNotFound(err error) bool {
	var se *storage_go.StorageError
	if !errors.As(err, &se) {
		return false
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not_found")
}
