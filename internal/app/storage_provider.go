package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	awsc "github.com/yungbote/aitranscriber-backend/internal/clients/aws"
	"github.com/yungbote/aitranscriber-backend/internal/clients/gcp"
	"github.com/yungbote/aitranscriber-backend/internal/clients/supabase"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/transcription"
)

type BlobStoreMode string

const (
	BlobStoreModeGCS         BlobStoreMode = "gcs"
	BlobStoreModeGCSEmulator BlobStoreMode = "gcs_emulator"
	BlobStoreModeS3          BlobStoreMode = "s3"
	BlobStoreModeSupabase    BlobStoreMode = "supabase"
	// BlobStoreModeNone serves direct uploads only; /api/transcribe answers 503.
	BlobStoreModeNone BlobStoreMode = "none"
)

func IsSupportedBlobStoreMode(m BlobStoreMode) bool {
	switch m {
	case BlobStoreModeGCS, BlobStoreModeGCSEmulator, BlobStoreModeS3, BlobStoreModeSupabase, BlobStoreModeNone:
		return true
	}
	return false
}

type BlobStoreBootstrapErrorCode string

const (
	BlobStoreBootstrapErrorInvalidMode         BlobStoreBootstrapErrorCode = "invalid_mode"
	BlobStoreBootstrapErrorMissingBucket       BlobStoreBootstrapErrorCode = "missing_bucket"
	BlobStoreBootstrapErrorMissingEmulatorHost BlobStoreBootstrapErrorCode = "missing_emulator_host"
	BlobStoreBootstrapErrorInvalidEmulatorHost BlobStoreBootstrapErrorCode = "invalid_emulator_host"
	BlobStoreBootstrapErrorConnectFailed       BlobStoreBootstrapErrorCode = "connect_failed"
)

type BlobStoreBootstrapError struct {
	Code         BlobStoreBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *BlobStoreBootstrapError) Error() string {
	if e == nil {
		return "blob store bootstrap failed"
	}
	return fmt.Sprintf(
		"blob store bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *BlobStoreBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

type blobStore interface {
	transcription.BlobStore
}

// Constructors are variables so selection can be tested without cloud access.
var (
	newGCSBlobStore = func(ctx context.Context, log *logger.Logger, cfg gcp.BucketConfig) (blobStore, error) {
		b, err := gcp.NewBucket(ctx, log, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newS3BlobStore = func(ctx context.Context, log *logger.Logger, w *wiring) (blobStore, error) {
		clients, err := w.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		s, err := awsc.NewS3Store(log, clients.S3, w.cfg.AudioBucket)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	newSupabaseBlobStore = func(log *logger.Logger, cfg supabase.Config) (blobStore, error) {
		s, err := supabase.NewStorage(log, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
)

// validateBlobStoreConfig catches configuration mistakes before any client
// is built.
func validateBlobStoreConfig(cfg Config) error {
	mode := BlobStoreMode(strings.TrimSpace(cfg.BlobStoreMode))
	bootstrapErr := func(code BlobStoreBootstrapErrorCode, cause error) error {
		return &BlobStoreBootstrapError{Code: code, Mode: string(mode), EmulatorHost: cfg.StorageEmulatorHost, Cause: cause}
	}
	if !IsSupportedBlobStoreMode(mode) {
		return bootstrapErr(BlobStoreBootstrapErrorInvalidMode, fmt.Errorf("unsupported blob store mode %q", mode))
	}
	switch mode {
	case BlobStoreModeGCS, BlobStoreModeS3:
		if strings.TrimSpace(cfg.AudioBucket) == "" {
			return bootstrapErr(BlobStoreBootstrapErrorMissingBucket, errors.New("missing env var AUDIO_BUCKET"))
		}
	case BlobStoreModeGCSEmulator:
		if strings.TrimSpace(cfg.AudioBucket) == "" {
			return bootstrapErr(BlobStoreBootstrapErrorMissingBucket, errors.New("missing env var AUDIO_BUCKET"))
		}
		host := strings.TrimSpace(cfg.StorageEmulatorHost)
		if host == "" {
			return bootstrapErr(BlobStoreBootstrapErrorMissingEmulatorHost, errors.New("missing env var STORAGE_EMULATOR_HOST"))
		}
		u, err := url.Parse(host)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return bootstrapErr(BlobStoreBootstrapErrorInvalidEmulatorHost, fmt.Errorf("STORAGE_EMULATOR_HOST must be an http(s) URL, got %q", host))
		}
	}
	return nil
}

// resolveBlobStore returns nil without error for BlobStoreModeNone.
func resolveBlobStore(ctx context.Context, log *logger.Logger, w *wiring) (blobStore, error) {
	cfg := w.cfg
	mode := BlobStoreMode(strings.TrimSpace(cfg.BlobStoreMode))
	if err := validateBlobStoreConfig(cfg); err != nil {
		log.Error("Blob store selection failed",
			"mode", mode,
			"emulator_host", cfg.StorageEmulatorHost,
			"error_code", blobStoreBootstrapErrorCode(err),
			"error", err,
		)
		return nil, err
	}
	log.Info("Selecting blob store", "mode", mode, "bucket", cfg.AudioBucket, "emulator_host", cfg.StorageEmulatorHost)

	var (
		store blobStore
		err   error
	)
	switch mode {
	case BlobStoreModeNone:
		log.Warn("No blob store configured; /api/transcribe is disabled")
		return nil, nil
	case BlobStoreModeGCS:
		store, err = newGCSBlobStore(ctx, log, gcp.BucketConfig{Name: cfg.AudioBucket})
	case BlobStoreModeGCSEmulator:
		store, err = newGCSBlobStore(ctx, log, gcp.BucketConfig{Name: cfg.AudioBucket, EmulatorHost: cfg.StorageEmulatorHost})
	case BlobStoreModeS3:
		store, err = newS3BlobStore(ctx, log, w)
	case BlobStoreModeSupabase:
		store, err = newSupabaseBlobStore(log, supabase.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Bucket:     cfg.AudioBucket,
		})
	}
	if err != nil {
		classified := classifyBlobStoreBootstrapError(cfg, err)
		log.Error("Blob store bootstrap failed",
			"mode", mode,
			"error_code", blobStoreBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	return store, nil
}

func classifyBlobStoreBootstrapError(cfg Config, err error) error {
	var bootstrapErr *BlobStoreBootstrapError
	if errors.As(err, &bootstrapErr) {
		return err
	}
	return &BlobStoreBootstrapError{
		Code:         BlobStoreBootstrapErrorConnectFailed,
		Mode:         strings.TrimSpace(cfg.BlobStoreMode),
		EmulatorHost: cfg.StorageEmulatorHost,
		Cause:        err,
	}
}

func blobStoreBootstrapErrorCode(err error) BlobStoreBootstrapErrorCode {
	var bootstrapErr *BlobStoreBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return BlobStoreBootstrapErrorConnectFailed
}
