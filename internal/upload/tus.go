package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
)

const tusVersion = "1.0.0"

type TusConfig struct {
	// Endpoint is the tus creation URL, e.g.
	// https://<project>.supabase.co/storage/v1/upload/resumable.
	Endpoint     string
	Bucket       string
	Token        string
	CacheControl string
	Upsert       bool
	HTTPClient   *http.Client
}

// TusEndpoint speaks tus 1.0.0 against a Supabase storage bucket.
type TusEndpoint struct {
	cfg  TusConfig
	base *url.URL
	hc   *http.Client
}

func NewTusEndpoint(cfg TusConfig) (*TusEndpoint, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tus endpoint required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("tus bucket required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid tus endpoint %q", cfg.Endpoint)
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "3600"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &TusEndpoint{cfg: cfg, base: base, hc: hc}, nil
}

func (e *TusEndpoint) Name() string {
	return "tus:" + strings.TrimRight(e.cfg.Endpoint, "/") + "#" + e.cfg.Bucket
}

func (e *TusEndpoint) Create(ctx context.Context, t Target) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, nil)
	if err != nil {
		return "", err
	}
	e.headers(req)
	req.Header.Set("Upload-Length", strconv.FormatInt(t.Size, 10))
	req.Header.Set("Upload-Metadata", encodeTusMetadata([][2]string{
		{"bucketName", e.cfg.Bucket},
		{"objectName", t.ObjectName},
		{"contentType", t.ContentType},
		{"cacheControl", e.cfg.CacheControl},
	}))
	if e.cfg.Upsert {
		req.Header.Set("x-upsert", "true")
	}
	resp, err := e.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", httpx.NewStatusError("tus", resp)
	}
	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc == "" {
		return "", fmt.Errorf("tus create: missing Location header")
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("tus create: bad Location %q: %w", loc, err)
	}
	return e.base.ResolveReference(ref).String(), nil
}

func (e *TusEndpoint) Offset(ctx context.Context, token string, _ Target) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, token, nil)
	if err != nil {
		return 0, err
	}
	e.headers(req)
	req.Header.Set("Cache-Control", "no-store")
	resp, err := e.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return parseUploadOffset(resp)
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		return 0, ErrSessionNotFound
	default:
		return 0, httpx.NewStatusError("tus", resp)
	}
}

func (e *TusEndpoint) PutChunk(ctx context.Context, token string, _ Target, offset int64, chunk []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, token, bytes.NewReader(chunk))
	if err != nil {
		return offset, err
	}
	e.headers(req)
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
	req.ContentLength = int64(len(chunk))
	resp, err := e.hc.Do(req)
	if err != nil {
		return offset, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return parseUploadOffset(resp)
	case http.StatusConflict:
		return offset, ErrOffsetMismatch
	case http.StatusNotFound, http.StatusGone:
		return offset, ErrSessionNotFound
	default:
		return offset, httpx.NewStatusError("tus", resp)
	}
}

// Finish is a no-op: a tus upload completes when its offset reaches
// Upload-Length.
func (e *TusEndpoint) Finish(context.Context, string, Target) error { return nil }

func (e *TusEndpoint) Abort(ctx context.Context, token string, _ Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, token, nil)
	if err != nil {
		return err
	}
	e.headers(req)
	resp, err := e.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return httpx.NewStatusError("tus", resp)
	}
}

func (e *TusEndpoint) headers(req *http.Request) {
	req.Header.Set("Tus-Resumable", tusVersion)
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}
}

func parseUploadOffset(resp *http.Response) (int64, error) {
	raw := strings.TrimSpace(resp.Header.Get("Upload-Offset"))
	if raw == "" {
		return 0, fmt.Errorf("tus: missing Upload-Offset header")
	}
	off, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || off < 0 {
		return 0, fmt.Errorf("tus: bad Upload-Offset %q", raw)
	}
	return off, nil
}

// encodeTusMetadata renders "key base64(value)" pairs, skipping empty values.
func encodeTusMetadata(pairs [][2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+" "+base64.StdEncoding.EncodeToString([]byte(kv[1])))
	}
	return strings.Join(parts, ",")
}
