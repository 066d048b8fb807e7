package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
)

// fakeEndpoint keeps per-session bytes and rejects writes at any offset other
// than the acknowledged one.
type fakeEndpoint struct {
	mu         sync.Mutex
	sessions   map[string][]byte
	completed  map[string][]byte
	creates    int
	puts       int
	badOffsets int
	// failPut may accept a prefix of the chunk and return an error.
	failPut func(call int, offset int64, chunk []byte) (int, error)
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{sessions: map[string][]byte{}, completed: map[string][]byte{}}
}

func (f *fakeEndpoint) Name() string { return "fake" }

func (f *fakeEndpoint) Create(_ context.Context, t Target) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	tok := fmt.Sprintf("session-%d", f.creates)
	f.sessions[tok] = []byte{}
	return tok, nil
}

func (f *fakeEndpoint) Offset(_ context.Context, token string, _ Target) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.sessions[token]
	if !ok {
		return 0, ErrSessionNotFound
	}
	return int64(len(b)), nil
}

func (f *fakeEndpoint) PutChunk(_ context.Context, token string, _ Target, offset int64, chunk []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	b, ok := f.sessions[token]
	if !ok {
		return offset, ErrSessionNotFound
	}
	if offset != int64(len(b)) {
		f.badOffsets++
		return int64(len(b)), ErrOffsetMismatch
	}
	if f.failPut != nil {
		if accepted, err := f.failPut(f.puts, offset, chunk); err != nil {
			f.sessions[token] = append(b, chunk[:accepted]...)
			return offset, err
		}
	}
	f.sessions[token] = append(b, chunk...)
	return int64(len(f.sessions[token])), nil
}

func (f *fakeEndpoint) Finish(_ context.Context, token string, t Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[t.ObjectName] = append([]byte(nil), f.sessions[token]...)
	delete(f.sessions, token)
	return nil
}

func (f *fakeEndpoint) Abort(_ context.Context, token string, _ Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testFile(n int) audio.File {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return audio.File{Name: "meeting.wav", ContentType: "audio/wav", Data: data}
}

func newTestClient(ep Endpoint, store FingerprintStore, rec *sleepRecorder) *Client {
	return NewClient(nil, ep, store, Config{ChunkSize: 4, Sleep: rec.sleep})
}

func TestUploadChunksAndReportsProgress(t *testing.T) {
	ep := newFakeEndpoint()
	store := NewMemoryStore()
	rec := &sleepRecorder{}
	c := newTestClient(ep, store, rec)
	f := testFile(10)

	var progress []int64
	sess, err := c.Upload(context.Background(), f, "audio/a.wav", func(s domain.UploadSession) {
		progress = append(progress, s.BytesUploaded)
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if want := []int64{4, 8, 10}; !reflect.DeepEqual(progress, want) {
		t.Fatalf("progress: want=%v got=%v", want, progress)
	}
	if !sess.Complete() || sess.Progress() != 1 {
		t.Fatalf("session not complete: %+v", sess)
	}
	if sess.FileID == "" {
		t.Fatalf("file id: want non-empty")
	}
	if !bytes.Equal(ep.completed["audio/a.wav"], f.Data) {
		t.Fatalf("object bytes differ")
	}
	if store.Len() != 0 {
		t.Fatalf("fingerprint not discarded: len=%d", store.Len())
	}
	if len(rec.delays) != 0 {
		t.Fatalf("unexpected sleeps: %v", rec.delays)
	}
}

func TestUploadRetryResyncsOffsetFromServer(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failPut = func(call int, _ int64, _ []byte) (int, error) {
		if call == 2 {
			return 2, &httpx.StatusError{Service: "fake", StatusCode: http.StatusServiceUnavailable}
		}
		return 0, nil
	}
	rec := &sleepRecorder{}
	c := newTestClient(ep, NewMemoryStore(), rec)
	f := testFile(10)

	if _, err := c.Upload(context.Background(), f, "audio/b.wav", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !bytes.Equal(ep.completed["audio/b.wav"], f.Data) {
		t.Fatalf("object bytes differ: got=%v", ep.completed["audio/b.wav"])
	}
	if ep.badOffsets != 0 {
		t.Fatalf("acknowledged bytes re-sent: badOffsets=%d", ep.badOffsets)
	}
	if want := []time.Duration{0}; !reflect.DeepEqual(rec.delays, want) {
		t.Fatalf("delays: want=%v got=%v", want, rec.delays)
	}
}

func TestUploadExhaustsScheduleAndKeepsFingerprint(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failPut = func(int, int64, []byte) (int, error) {
		return 0, &httpx.StatusError{Service: "fake", StatusCode: http.StatusBadGateway}
	}
	store := NewMemoryStore()
	rec := &sleepRecorder{}
	c := newTestClient(ep, store, rec)

	_, err := c.Upload(context.Background(), testFile(10), "audio/c.wav", nil)
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("want *UploadError, got %T %v", err, err)
	}
	if ue.Attempts != 6 {
		t.Fatalf("attempts: want=6 got=%d", ue.Attempts)
	}
	want := []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Fatalf("delays: want=%v got=%v", want, rec.delays)
	}
	if store.Len() != 1 {
		t.Fatalf("fingerprint: want kept, len=%d", store.Len())
	}
}

func TestUploadSucceedsOnLastScheduledRetry(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failPut = func(call int, _ int64, _ []byte) (int, error) {
		if call <= 5 {
			return 0, &httpx.StatusError{Service: "fake", StatusCode: http.StatusBadGateway}
		}
		return 0, nil
	}
	rec := &sleepRecorder{}
	c := NewClient(nil, ep, NewMemoryStore(), Config{ChunkSize: 16, Sleep: rec.sleep})
	f := testFile(10)

	if _, err := c.Upload(context.Background(), f, "audio/p.wav", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ep.puts != 6 {
		t.Fatalf("puts: want=6 got=%d", ep.puts)
	}
	want := []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	if !reflect.DeepEqual(rec.delays, want) {
		t.Fatalf("delays: want=%v got=%v", want, rec.delays)
	}
	if !bytes.Equal(ep.completed["audio/p.wav"], f.Data) {
		t.Fatalf("object bytes differ")
	}
}

func TestUploadNonRetryableFailsImmediately(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failPut = func(int, int64, []byte) (int, error) {
		return 0, &httpx.StatusError{Service: "fake", StatusCode: http.StatusForbidden}
	}
	rec := &sleepRecorder{}
	c := newTestClient(ep, NewMemoryStore(), rec)

	_, err := c.Upload(context.Background(), testFile(10), "audio/d.wav", nil)
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Attempts != 1 {
		t.Fatalf("want one-attempt UploadError, got %v", err)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("unexpected sleeps: %v", rec.delays)
	}
}

func TestResumeIsByteIdenticalToUninterruptedUpload(t *testing.T) {
	f := testFile(23)

	clean := newFakeEndpoint()
	if _, err := newTestClient(clean, NewMemoryStore(), &sleepRecorder{}).Upload(context.Background(), f, "audio/e.wav", nil); err != nil {
		t.Fatalf("clean Upload: %v", err)
	}

	ep := newFakeEndpoint()
	ep.failPut = func(call int, _ int64, _ []byte) (int, error) {
		if call == 3 {
			return 1, &httpx.StatusError{Service: "fake", StatusCode: http.StatusBadRequest}
		}
		return 0, nil
	}
	store := NewMemoryStore()
	if _, err := newTestClient(ep, store, &sleepRecorder{}).Upload(context.Background(), f, "audio/e.wav", nil); err == nil {
		t.Fatalf("first Upload: want error")
	}
	if store.Len() != 1 {
		t.Fatalf("fingerprint: want kept after failure")
	}

	ep.failPut = nil
	var first int64 = -1
	_, err := newTestClient(ep, store, &sleepRecorder{}).Upload(context.Background(), f, "audio/e.wav", func(s domain.UploadSession) {
		if first < 0 {
			first = s.BytesUploaded
		}
	})
	if err != nil {
		t.Fatalf("resumed Upload: %v", err)
	}
	if ep.creates != 1 {
		t.Fatalf("creates: want=1 got=%d", ep.creates)
	}
	if first != 9 {
		t.Fatalf("resume offset: want=9 got=%d", first)
	}
	if !bytes.Equal(ep.completed["audio/e.wav"], clean.completed["audio/e.wav"]) {
		t.Fatalf("resumed object differs from uninterrupted upload")
	}
	if ep.badOffsets != 0 {
		t.Fatalf("badOffsets: want=0 got=%d", ep.badOffsets)
	}
	if store.Len() != 0 {
		t.Fatalf("fingerprint: want discarded after success")
	}
}

func TestResumeStaleSessionStartsOver(t *testing.T) {
	ep := newFakeEndpoint()
	store := NewMemoryStore()
	f := testFile(6)
	fp := Fingerprint(f.Data, "audio/f.wav", ep.Name())
	_ = store.Put(context.Background(), fp, domain.UploadSession{ResumeToken: "expired"})

	if _, err := newTestClient(ep, store, &sleepRecorder{}).Upload(context.Background(), f, "audio/f.wav", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ep.creates != 1 {
		t.Fatalf("creates: want=1 got=%d", ep.creates)
	}
	if !bytes.Equal(ep.completed["audio/f.wav"], f.Data) {
		t.Fatalf("object bytes differ")
	}
}

func TestUploadCancelledContext(t *testing.T) {
	ep := newFakeEndpoint()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(ep, NewMemoryStore(), &sleepRecorder{}).Upload(ctx, testFile(8), "audio/g.wav", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if ep.creates != 0 {
		t.Fatalf("creates: want=0 got=%d", ep.creates)
	}
}

func TestUploadEmptyFileCommitsOneChunk(t *testing.T) {
	ep := newFakeEndpoint()
	if _, err := newTestClient(ep, NewMemoryStore(), &sleepRecorder{}).Upload(context.Background(), audio.File{Name: "x.wav"}, "audio/empty.wav", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ep.puts != 1 {
		t.Fatalf("puts: want=1 got=%d", ep.puts)
	}
	if got, ok := ep.completed["audio/empty.wav"]; !ok || len(got) != 0 {
		t.Fatalf("empty object not committed: %v %v", got, ok)
	}
}

func TestFingerprintDependsOnContentAndDestination(t *testing.T) {
	a := Fingerprint([]byte("abc"), "o1", "tus:x")
	if a != Fingerprint([]byte("abc"), "o1", "tus:x") {
		t.Fatalf("fingerprint not stable")
	}
	for _, other := range []string{
		Fingerprint([]byte("abd"), "o1", "tus:x"),
		Fingerprint([]byte("abc"), "o2", "tus:x"),
		Fingerprint([]byte("abc"), "o1", "gcs:x"),
	} {
		if other == a {
			t.Fatalf("fingerprint collision: %s", a)
		}
	}
}
