package upload

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound means the endpoint no longer knows a resume token.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrOffsetMismatch means the endpoint rejected a chunk because its
	// acknowledged offset differs from ours; the client re-syncs and retries.
	ErrOffsetMismatch = errors.New("upload offset mismatch")
)

// Target is the destination object of one upload.
type Target struct {
	ObjectName  string
	ContentType string
	Size        int64
}

// Endpoint is a resumable blob-storage upload protocol. Offsets returned by
// Offset and PutChunk are the server-acknowledged byte counts.
type Endpoint interface {
	// Name identifies the destination (protocol, host and bucket) for
	// fingerprinting.
	Name() string
	Create(ctx context.Context, t Target) (token string, err error)
	Offset(ctx context.Context, token string, t Target) (int64, error)
	PutChunk(ctx context.Context, token string, t Target, offset int64, chunk []byte) (int64, error)
	Finish(ctx context.Context, token string, t Target) error
	Abort(ctx context.Context, token string, t Target) error
}
