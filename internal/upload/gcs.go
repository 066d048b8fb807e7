package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
)

const gcsDefaultBaseURL = "https://storage.googleapis.com"

// statusResumeIncomplete is GCS's "308 Resume Incomplete".
const statusResumeIncomplete = 308

type GCSConfig struct {
	// BaseURL defaults to the public JSON API host; set it to the emulator
	// host in gcs_emulator mode.
	BaseURL    string
	Bucket     string
	HTTPClient *http.Client
}

// GCSEndpoint drives a GCS JSON API resumable upload session. HTTPClient is
// expected to carry credentials (see clients/gcp.NewUploadHTTPClient).
type GCSEndpoint struct {
	base   string
	bucket string
	hc     *http.Client
}

func NewGCSEndpoint(cfg GCSConfig) (*GCSEndpoint, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = gcsDefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &GCSEndpoint{base: base, bucket: cfg.Bucket, hc: hc}, nil
}

func (e *GCSEndpoint) Name() string { return "gcs:" + e.base + "#" + e.bucket }

func (e *GCSEndpoint) Create(ctx context.Context, t Target) (string, error) {
	q := url.Values{}
	q.Set("uploadType", "resumable")
	q.Set("name", t.ObjectName)
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?%s", e.base, url.PathEscape(e.bucket), q.Encode())

	meta, _ := json.Marshal(map[string]string{"name": t.ObjectName, "contentType": t.ContentType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(meta))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(t.Size, 10))
	if t.ContentType != "" {
		req.Header.Set("X-Upload-Content-Type", t.ContentType)
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", httpx.NewStatusError("gcs", resp)
	}
	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc == "" {
		return "", fmt.Errorf("gcs create: missing Location header")
	}
	return loc, nil
}

func (e *GCSEndpoint) Offset(ctx context.Context, token string, t Target) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, token, nil)
	if err != nil {
		return 0, err
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", t.Size))
	return e.do(req, 0, t.Size)
}

func (e *GCSEndpoint) PutChunk(ctx context.Context, token string, t Target, offset int64, chunk []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, token, bytes.NewReader(chunk))
	if err != nil {
		return offset, err
	}
	req.ContentLength = int64(len(chunk))
	if len(chunk) == 0 {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", t.Size))
	} else {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, t.Size))
	}
	return e.do(req, offset, t.Size)
}

// Finish is a no-op: the final chunk's 200/201 commits the object.
func (e *GCSEndpoint) Finish(context.Context, string, Target) error { return nil }

func (e *GCSEndpoint) Abort(ctx context.Context, token string, _ Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, token, nil)
	if err != nil {
		return err
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 499, http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return httpx.NewStatusError("gcs", resp)
	}
}

func (e *GCSEndpoint) do(req *http.Request, offset, total int64) (int64, error) {
	resp, err := e.hc.Do(req)
	if err != nil {
		return offset, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return total, nil
	case statusResumeIncomplete:
		return parseGCSRange(resp.Header.Get("Range"))
	case http.StatusNotFound, http.StatusGone:
		return offset, ErrSessionNotFound
	default:
		return offset, httpx.NewStatusError("gcs", resp)
	}
}

// parseGCSRange turns "bytes=0-N" into N+1; an absent header means nothing
// has been persisted.
func parseGCSRange(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	spec := strings.TrimPrefix(raw, "bytes=")
	i := strings.IndexByte(spec, '-')
	if i < 0 {
		return 0, fmt.Errorf("gcs: bad Range %q", raw)
	}
	last, err := strconv.ParseInt(spec[i+1:], 10, 64)
	if err != nil || last < 0 {
		return 0, fmt.Errorf("gcs: bad Range %q", raw)
	}
	return last + 1, nil
}
