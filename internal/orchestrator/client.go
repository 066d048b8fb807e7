// Package orchestrator drives the client side of a session: it calls the
// transcription and summarization endpoints and consumes their event
// streams.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type Config struct {
	// BaseURL is the server origin, e.g. http://localhost:8080.
	BaseURL    string
	HTTPClient *http.Client
}

type apiClient struct {
	baseURL string
	hc      *http.Client
}

func newAPIClient(cfg Config) apiClient {
	hc := cfg.HTTPClient
	if hc == nil {
		// Streams stay open for the whole provider call; no overall timeout.
		hc = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 10 * time.Minute,
		}}
	}
	return apiClient{baseURL: strings.TrimRight(cfg.BaseURL, "/"), hc: hc}
}

// post sends a request that answers with an event stream. A non-2xx
// response is drained (up to 4KiB) and closed; its status and body are
// returned instead of the response.
func (c apiClient) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, int, string, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, resp.StatusCode, strings.TrimSpace(string(raw)), nil
	}
	return resp, resp.StatusCode, "", nil
}

func nopLogger(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.NewNop()
	}
	return log
}
