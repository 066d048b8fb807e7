package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const (
	defaultPrefix = "aitranscriber:upload:"
	defaultTTL    = 24 * time.Hour
)

// FingerprintStore keeps resumable upload sessions in redis, keyed by
// upload fingerprint. Entries expire so abandoned uploads do not pile up.
type FingerprintStore struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

type Options struct {
	Addr     string
	Password string
	Prefix   string
	TTL      time.Duration
}

// NewFingerprintStore connects to REDIS_ADDR. REDIS_KEY_PREFIX and
// REDIS_FINGERPRINT_TTL override the key prefix and the entry lifetime.
func NewFingerprintStore(log *logger.Logger) (*FingerprintStore, error) {
	opts := Options{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		Prefix:   os.Getenv("REDIS_KEY_PREFIX"),
		TTL:      defaultTTL,
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_FINGERPRINT_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_FINGERPRINT_TTL: %w", err)
		}
		opts.TTL = d
	}
	return Dial(log, opts)
}

// Dial connects with explicit options and pings before returning.
func Dial(log *logger.Logger, opts Options) (*FingerprintStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFingerprintStoreWithClient(log, rdb, opts.Prefix, opts.TTL), nil
}

func NewFingerprintStoreWithClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) *FingerprintStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &FingerprintStore{
		log:    log.With("service", "RedisFingerprintStore"),
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *FingerprintStore) key(fp string) string { return s.prefix + fp }

func (s *FingerprintStore) Get(ctx context.Context, fp string) (domain.UploadSession, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(fp)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.UploadSession{}, false, nil
	}
	if err != nil {
		return domain.UploadSession{}, false, fmt.Errorf("redis get: %w", err)
	}
	var sess domain.UploadSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		// A corrupt entry is treated as absent; the upload starts over.
		s.log.Warn("bad upload session payload", "fingerprint", fp, "error", err)
		_ = s.rdb.Del(ctx, s.key(fp)).Err()
		return domain.UploadSession{}, false, nil
	}
	return sess, true, nil
}

func (s *FingerprintStore) Put(ctx context.Context, fp string, sess domain.UploadSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(fp), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *FingerprintStore) Delete(ctx context.Context, fp string) error {
	if err := s.rdb.Del(ctx, s.key(fp)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *FingerprintStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
