package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type BucketConfig struct {
	Name string
	// EmulatorHost switches the bucket to a fake-gcs style emulator.
	EmulatorHost string
}

// Bucket is the audio blob store on GCS (or its emulator).
type Bucket struct {
	log          *logger.Logger
	client       *storage.Client
	name         string
	emulatorHost string
	hc           *http.Client
}

func NewBucket(ctx context.Context, log *logger.Logger, cfg BucketConfig) (*Bucket, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("missing env var AUDIO_BUCKET")
	}
	emu := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")

	var opts []option.ClientOption
	if emu != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", emu)
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	b := &Bucket{
		log:          log.With("service", "GCSBucket"),
		client:       client,
		name:         cfg.Name,
		emulatorHost: emu,
		hc:           &http.Client{Timeout: 2 * time.Minute},
	}
	b.log.Info("Object storage initialized", "bucket", cfg.Name, "emulator_host", emu)
	return b, nil
}

func (b *Bucket) Name() string {
	if b.emulatorHost != "" {
		return "gcs_emulator"
	}
	return "gcs"
}

func (b *Bucket) BucketName() string { return b.name }

func (b *Bucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// readCloserWithCancel ties the download context to the reader's lifetime;
// cancelling before the caller reads would truncate the body.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *Bucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Minute)
	if b.emulatorHost != "" {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, b.emulatorMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := b.hc.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, b.name, key)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	r, err := b.client.Bucket(b.name).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, b.name, key)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.client.Bucket(b.name).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s/%s", domain.ErrBlobNotFound, b.name, key)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, b.name, err)
	}
	return nil
}

func (b *Bucket) emulatorMediaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		b.emulatorHost,
		url.PathEscape(b.name),
		url.PathEscape(key),
	)
}

// NewUploadHTTPClient returns the client used for resumable upload sessions:
// authorized for devstorage read/write, or plain when targeting an emulator.
func NewUploadHTTPClient(ctx context.Context, emulatorHost string) (*http.Client, error) {
	if strings.TrimSpace(emulatorHost) != "" {
		return &http.Client{Timeout: 2 * time.Minute}, nil
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	hc, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs upload http client: %w", err)
	}
	return hc, nil
}
