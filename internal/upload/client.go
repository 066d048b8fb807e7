package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const DefaultChunkSize int64 = 6 * 1024 * 1024

// UploadError is a permanent upload failure: retries exhausted, a
// non-retryable response, or cancellation.
type UploadError struct {
	Op         string
	ObjectName string
	Attempts   int
	Err        error
}

func (e *UploadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("upload %s %q failed after %d attempt(s): %v", e.Op, e.ObjectName, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ProgressFunc is called after every acknowledged chunk.
type ProgressFunc func(s domain.UploadSession)

type Config struct {
	ChunkSize int64
	Schedule  httpx.Schedule
	Sleep     httpx.SleepFunc
}

type Client struct {
	log       *logger.Logger
	endpoint  Endpoint
	store     FingerprintStore
	chunkSize int64
	schedule  httpx.Schedule
	sleep     httpx.SleepFunc
	now       func() time.Time
}

func NewClient(log *logger.Logger, endpoint Endpoint, store FingerprintStore, cfg Config) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = httpx.UploadRetrySchedule
	}
	if cfg.Sleep == nil {
		cfg.Sleep = httpx.Sleep
	}
	return &Client{
		log:       log.With("service", "UploadClient", "endpoint", endpoint.Name()),
		endpoint:  endpoint,
		store:     store,
		chunkSize: cfg.ChunkSize,
		schedule:  cfg.Schedule,
		sleep:     cfg.Sleep,
		now:       time.Now,
	}
}

// Upload pushes f to objectName in chunks. An incomplete session with the
// same fingerprint is resumed from the endpoint's acknowledged offset. On
// failure the fingerprint is kept so a later call can resume.
func (c *Client) Upload(ctx context.Context, f audio.File, objectName string, onProgress ProgressFunc) (domain.UploadSession, error) {
	t := Target{ObjectName: objectName, ContentType: f.ContentType, Size: f.Size()}
	if t.ContentType == "" {
		t.ContentType = audio.ContentTypeFor(f.Name)
	}
	fp := Fingerprint(f.Data, objectName, c.endpoint.Name())

	sess, err := c.resume(ctx, fp, t)
	if err != nil {
		return sess, err
	}
	if sess.ResumeToken == "" {
		var token string
		if _, err := c.retry(ctx, "create", objectName, func() error {
			var err error
			token, err = c.endpoint.Create(ctx, t)
			return err
		}); err != nil {
			return sess, err
		}
		sess = domain.UploadSession{
			FileID:      uuid.NewString(),
			ObjectName:  objectName,
			ContentType: t.ContentType,
			BytesTotal:  t.Size,
			ResumeToken: token,
			CreatedAt:   c.now().UTC(),
		}
		if err := c.store.Put(ctx, fp, sess); err != nil {
			c.log.Warn("fingerprint store put failed", "error", err, "fingerprint", fp)
		}
	}

	if sess.BytesUploaded > 0 && onProgress != nil {
		onProgress(sess)
	}

	// An empty object still needs one (empty) chunk to be committed.
	first := t.Size == 0
	for first || sess.BytesUploaded < t.Size {
		first = false
		next, err := c.sendChunk(ctx, &sess, t, f.Data)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = c.store.Delete(ctx, fp)
			}
			return sess, err
		}
		sess.BytesUploaded = next
		if onProgress != nil {
			onProgress(sess)
		}
	}

	if _, err := c.retry(ctx, "finish", objectName, func() error {
		return c.endpoint.Finish(ctx, sess.ResumeToken, t)
	}); err != nil {
		return sess, err
	}
	if err := c.store.Delete(ctx, fp); err != nil {
		c.log.Warn("fingerprint store delete failed", "error", err, "fingerprint", fp)
	}
	c.log.Info("upload complete", "object", objectName, "bytes", t.Size, "file_id", sess.FileID)
	return sess, nil
}

// resume returns the stored session synced to the server offset, or a zero
// session when there is nothing to resume.
func (c *Client) resume(ctx context.Context, fp string, t Target) (domain.UploadSession, error) {
	prev, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.log.Warn("fingerprint store get failed", "error", err, "fingerprint", fp)
		return domain.UploadSession{}, nil
	}
	if !ok || prev.ResumeToken == "" {
		return domain.UploadSession{}, nil
	}
	var off int64
	_, err = c.retry(ctx, "offset", t.ObjectName, func() error {
		var err error
		off, err = c.endpoint.Offset(ctx, prev.ResumeToken, t)
		return err
	})
	if errors.Is(err, ErrSessionNotFound) {
		c.log.Info("stale upload session, starting over", "object", t.ObjectName)
		_ = c.store.Delete(ctx, fp)
		return domain.UploadSession{}, nil
	}
	if err != nil {
		return prev, err
	}
	prev.BytesTotal = t.Size
	prev.BytesUploaded = off
	c.log.Info("resuming upload", "object", t.ObjectName, "offset", off, "bytes_total", t.Size)
	return prev, nil
}

// sendChunk uploads the chunk at the session offset. After a failure the
// offset is re-read from the endpoint so acknowledged bytes are never sent
// twice.
func (c *Client) sendChunk(ctx context.Context, sess *domain.UploadSession, t Target, data []byte) (int64, error) {
	offset := sess.BytesUploaded
	resync := false
	var lastErr error
	attempts := 0
	for i := 0; i < c.schedule.Attempts(); i++ {
		if i > 0 {
			delay, _ := c.schedule.Delay(i - 1)
			observability.Current().IncUploadRetry(c.endpoint.Name())
			c.log.Warn("upload chunk failed, retrying", "object", t.ObjectName, "offset", offset, "attempt", i+1, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return offset, &UploadError{Op: "chunk", ObjectName: t.ObjectName, Attempts: attempts, Err: err}
			}
		} else if err := ctx.Err(); err != nil {
			return offset, &UploadError{Op: "chunk", ObjectName: t.ObjectName, Attempts: attempts, Err: err}
		}
		attempts++

		if resync {
			off, err := c.endpoint.Offset(ctx, sess.ResumeToken, t)
			if err != nil {
				lastErr = err
				if !c.retryable(ctx, err) {
					break
				}
				continue
			}
			offset = off
			resync = false
			if offset >= t.Size && t.Size > 0 {
				return offset, nil
			}
		}

		end := offset + c.chunkSize
		if end > t.Size {
			end = t.Size
		}
		cctx, span := observability.StartSpan(ctx, "upload.chunk",
			attribute.String("upload.endpoint", c.endpoint.Name()),
			attribute.String("upload.object", t.ObjectName),
			attribute.Int64("upload.offset", offset),
			attribute.Int64("upload.chunk_bytes", end-offset),
			attribute.Int("upload.attempt", attempts),
		)
		next, err := c.endpoint.PutChunk(cctx, sess.ResumeToken, t, offset, data[offset:end])
		observability.EndSpan(span, err)
		observability.Current().ObserveUploadChunk(c.endpoint.Name(), err == nil, next-offset)
		if err == nil {
			if next < offset {
				return offset, &UploadError{Op: "chunk", ObjectName: t.ObjectName, Attempts: attempts,
					Err: fmt.Errorf("endpoint moved offset backwards: %d -> %d", offset, next)}
			}
			return next, nil
		}
		lastErr = err
		if !c.retryable(ctx, err) {
			break
		}
		resync = true
	}
	return offset, &UploadError{Op: "chunk", ObjectName: t.ObjectName, Attempts: attempts, Err: lastErr}
}

func (c *Client) retry(ctx context.Context, op, object string, fn func() error) (int, error) {
	var lastErr error
	attempts := 0
	for i := 0; i < c.schedule.Attempts(); i++ {
		if i > 0 {
			delay, _ := c.schedule.Delay(i - 1)
			observability.Current().IncUploadRetry(c.endpoint.Name())
			c.log.Warn("upload "+op+" failed, retrying", "object", object, "attempt", i+1, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return attempts, &UploadError{Op: op, ObjectName: object, Attempts: attempts, Err: err}
			}
		} else if err := ctx.Err(); err != nil {
			return attempts, &UploadError{Op: op, ObjectName: object, Attempts: attempts, Err: err}
		}
		attempts++
		lastErr = fn()
		if lastErr == nil {
			return attempts, nil
		}
		if errors.Is(lastErr, ErrSessionNotFound) {
			return attempts, lastErr
		}
		if !c.retryable(ctx, lastErr) {
			break
		}
	}
	return attempts, &UploadError{Op: op, ObjectName: object, Attempts: attempts, Err: lastErr}
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, ErrOffsetMismatch) || httpx.IsRetryableError(err)
}
