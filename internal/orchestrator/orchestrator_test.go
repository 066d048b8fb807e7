package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/upload"
)

const resultRecord = `data: {"metadata":{"request_id":"r1"},"results":{"channels":[{"alternatives":[{"transcript":"hi there bye","words":[` +
	`{"speaker":0,"start":0,"end":0.4,"word":"hi","punctuated_word":"Hi"},` +
	`{"speaker":0,"start":0.5,"end":0.9,"word":"there","punctuated_word":"there."},` +
	`{"speaker":1,"start":1.0,"end":1.3,"word":"bye","punctuated_word":"Bye."}]}]}]}}` + "\n\n"

type statusLog struct {
	mu  sync.Mutex
	got []string
}

func (s *statusLog) sink() domain.StatusSink {
	return func(v string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.got = append(s.got, v)
	}
}

func (s *statusLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func streamHandler(records ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, rec := range records {
			_, _ = io.WriteString(w, rec)
			if fl != nil {
				fl.Flush()
			}
		}
	}
}

func TestTranscribeRefDeliversWordsOnce(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transcribe", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FilePath string `json:"filePath"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPath = body.FilePath
		streamHandler(
			"data: {\"status\":\"Processing started\"}\n\n",
			"data: {not json}\n\n",
			resultRecord,
			"data: {\"status\":\"Processing completed\"}\n\n",
		)(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := &statusLog{}
	words, err := NewTranscriber(nil, Config{BaseURL: srv.URL}).TranscribeRef(context.Background(), "abc.wav", st.sink())
	if err != nil {
		t.Fatalf("TranscribeRef: %v", err)
	}
	if gotPath != "abc.wav" {
		t.Fatalf("filePath: want=abc.wav got=%q", gotPath)
	}
	if len(words) != 3 || words[2].Speaker != 1 {
		t.Fatalf("words: got=%+v", words)
	}
	if got := st.all(); len(got) != 1 || got[0] != "Processing started" {
		t.Fatalf("statuses: want=[Processing started] got=%v", got)
	}
}

func TestTranscribeRequestRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"no file path provided","code":"invalid_request"}}`)
	}))
	defer srv.Close()

	_, err := NewTranscriber(nil, Config{BaseURL: srv.URL}).TranscribeRef(context.Background(), "", nil)
	var re *TranscriptionRequestError
	if !errors.As(err, &re) || re.StatusCode != http.StatusBadRequest || !strings.Contains(re.Body, "invalid_request") {
		t.Fatalf("want TranscriptionRequestError 400, got %v", err)
	}
}

func TestTranscribeStreamErrors(t *testing.T) {
	cases := map[string][]string{
		"error record": {"data: {\"status\":\"Processing started\"}\n\n", "data: {\"error\":\"Transcription failed\"}\n\n"},
		"no result":    {"data: {\"status\":\"Processing started\"}\n\n"},
		"unterminated": {"data: {\"status\":\"Processing started\"}\n\n", strings.TrimSuffix(resultRecord, "\n\n")},
	}
	for name, records := range cases {
		srv := httptest.NewServer(streamHandler(records...))
		_, err := NewTranscriber(nil, Config{BaseURL: srv.URL}).TranscribeRef(context.Background(), "a.wav", nil)
		srv.Close()
		var se *TranscriptionStreamError
		if !errors.As(err, &se) {
			t.Fatalf("%s: want TranscriptionStreamError, got %v", name, err)
		}
	}
}

func TestTranscribeStreamErrorKeepsRequestID(t *testing.T) {
	srv := httptest.NewServer(streamHandler(
		"data: {\"status\":\"Processing started\"}\n\n",
		"data: {\"error\":\"Transcription failed\",\"requestId\":\"req-3\"}\n\n",
	))
	defer srv.Close()
	_, err := NewTranscriber(nil, Config{BaseURL: srv.URL}).TranscribeRef(context.Background(), "a.wav", nil)
	var se *TranscriptionStreamError
	if !errors.As(err, &se) || se.RequestID != "req-3" {
		t.Fatalf("want stream error with request id, got %v", err)
	}
	if !strings.Contains(se.Error(), "(request req-3)") {
		t.Fatalf("error text: got=%q", se.Error())
	}
}

func TestTranscribeFileSendsMultipart(t *testing.T) {
	var gotName, gotType string
	var gotData []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/api/deepgram", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotName, gotType = hdr.Filename, hdr.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(f)
		streamHandler(resultRecord)(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	words, err := NewTranscriber(nil, Config{BaseURL: srv.URL}).TranscribeFile(context.Background(), audio.File{Name: "m.mp3", Data: []byte("ID3...")}, nil)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if len(words) != 3 || gotName != "m.mp3" || gotType != "audio/mpeg" || string(gotData) != "ID3..." {
		t.Fatalf("upload: name=%q type=%q data=%q words=%d", gotName, gotType, gotData, len(words))
	}
}

func TestSummarizeEmptyMakesNoRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	st := &statusLog{}
	_, err := NewSummarizer(nil, Config{BaseURL: srv.URL}).Summarize(context.Background(), nil, st.sink())
	if !errors.Is(err, ErrNothingToSummarize) {
		t.Fatalf("want ErrNothingToSummarize, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("calls: want=0 got=%d", calls)
	}
	if got := st.all(); len(got) != 1 || got[0] != StatusNothingToSummarize {
		t.Fatalf("statuses: got=%v", got)
	}
}

func TestSummarizeStreamsProgressThenSummary(t *testing.T) {
	var got []domain.TranscriptGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		streamHandler(
			"data: {\"message\":\"Summarizing transcript\"}\n\n",
			"data: {\"summary\":\"# Notes\"}\n\n",
			"data: {\"summary\":\"ignored\"}\n\n",
			"data: [DONE]\n\n",
		)(w, r)
	}))
	defer srv.Close()

	st := &statusLog{}
	groups := []domain.TranscriptGroup{{Speaker: 0, Start: 0, Text: "hi there"}}
	summary, err := NewSummarizer(nil, Config{BaseURL: srv.URL}).Summarize(context.Background(), groups, st.sink())
	if err != nil || summary != "# Notes" {
		t.Fatalf("Summarize: summary=%q err=%v", summary, err)
	}
	if len(got) != 1 || got[0].Text != "hi there" {
		t.Fatalf("request groups: got=%+v", got)
	}
	if s := st.all(); len(s) != 1 || s[0] != "Summarizing transcript" {
		t.Fatalf("statuses: got=%v", s)
	}
}

func TestSummarizeErrors(t *testing.T) {
	groups := []domain.TranscriptGroup{{Text: "x"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := NewSummarizer(nil, Config{BaseURL: srv.URL}).Summarize(context.Background(), groups, nil)
	srv.Close()
	var re *SummaryRequestError
	if !errors.As(err, &re) || re.StatusCode != http.StatusBadGateway {
		t.Fatalf("want SummaryRequestError, got %v", err)
	}

	srv = httptest.NewServer(streamHandler("data: {\"message\":\"x\"}\n\n", "data: [DONE]\n\n"))
	_, err = NewSummarizer(nil, Config{BaseURL: srv.URL}).Summarize(context.Background(), groups, nil)
	srv.Close()
	var se *SummaryStreamError
	if !errors.As(err, &se) {
		t.Fatalf("want SummaryStreamError, got %v", err)
	}
}

func TestRecomputerRunsOnlyOnChange(t *testing.T) {
	var calls int32
	r := NewRecomputer(func(ctx context.Context, groups []domain.TranscriptGroup, _ domain.StatusSink) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("summary %d", n), nil
	}, nil)

	a := []domain.TranscriptGroup{{Speaker: 0, Text: "a"}}
	res := <-r.Update(context.Background(), a)
	if res.Err != nil || res.Summary != "summary 1" {
		t.Fatalf("first run: got=%+v", res)
	}
	if ch := r.Update(context.Background(), []domain.TranscriptGroup{{Speaker: 0, Text: "a"}}); ch != nil {
		t.Fatalf("unchanged groups started a run")
	}
	if s, ok := r.Last(); !ok || s != "summary 1" {
		t.Fatalf("Last: got=%q ok=%v", s, ok)
	}
	res = <-r.Update(context.Background(), append(a, domain.TranscriptGroup{Speaker: 1, Text: "b"}))
	if res.Summary != "summary 2" {
		t.Fatalf("changed groups: got=%+v", res)
	}
	r.Wait()
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
}

func TestRecomputerCancelsSupersededRun(t *testing.T) {
	release := make(chan struct{})
	r := NewRecomputer(func(ctx context.Context, groups []domain.TranscriptGroup, _ domain.StatusSink) (string, error) {
		if groups[0].Text == "slow" {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-release:
				return "slow", nil
			}
		}
		return "fast", nil
	}, nil)

	first := r.Update(context.Background(), []domain.TranscriptGroup{{Text: "slow"}})
	second := r.Update(context.Background(), []domain.TranscriptGroup{{Text: "fast"}})
	if res := <-first; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("superseded run: want context.Canceled got %+v", res)
	}
	if res := <-second; res.Err != nil || res.Summary != "fast" {
		t.Fatalf("latest run: got=%+v", res)
	}
	close(release)
	r.Wait()
	if s, _ := r.Last(); s != "fast" {
		t.Fatalf("Last: want=fast got=%q", s)
	}
}

type fakeUploader struct {
	objectName string
	fail       error
}

func (u *fakeUploader) Upload(_ context.Context, f audio.File, objectName string, onProgress upload.ProgressFunc) (domain.UploadSession, error) {
	u.objectName = objectName
	if u.fail != nil {
		return domain.UploadSession{}, u.fail
	}
	s := domain.UploadSession{FileID: "f", ObjectName: objectName, BytesTotal: f.Size(), BytesUploaded: f.Size()}
	if onProgress != nil {
		onProgress(s)
	}
	return s, nil
}

func newSessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transcribe", streamHandler("data: {\"status\":\"Processing started\"}\n\n", resultRecord))
	mux.HandleFunc("/api/summarize", streamHandler("data: {\"summary\":\"# Notes\"}\n\n", "data: [DONE]\n\n"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionProcess(t *testing.T) {
	srv := newSessionServer(t)
	cfg := Config{BaseURL: srv.URL}
	up := &fakeUploader{}
	st := &statusLog{}
	s := NewSession(nil, nil, up, NewTranscriber(nil, cfg), NewSummarizer(nil, cfg), st.sink())

	out, err := s.Process(context.Background(), audio.File{Name: "talk.wav", Data: []byte("RIFF")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.HasSuffix(up.objectName, ".wav") || len(up.objectName) != 36+4 {
		t.Fatalf("object name: got=%q", up.objectName)
	}
	want := []domain.TranscriptGroup{{Speaker: 0, Start: 0, Text: "Hi there."}, {Speaker: 1, Start: 1.0, Text: "Bye."}}
	if len(out.Groups) != 2 || out.Groups[0] != want[0] || out.Groups[1] != want[1] {
		t.Fatalf("groups: want=%+v got=%+v", want, out.Groups)
	}
	if out.Summary != "# Notes" {
		t.Fatalf("summary: got=%q", out.Summary)
	}
	if got := st.all(); len(got) < 3 || got[1] != "Uploading file: 100%" {
		t.Fatalf("statuses: got=%v", got)
	}
}

func TestSessionFailureResetsStatus(t *testing.T) {
	srv := newSessionServer(t)
	cfg := Config{BaseURL: srv.URL}
	st := &statusLog{}
	s := NewSession(nil, nil, &fakeUploader{fail: &upload.UploadError{Op: "chunk", Attempts: 5, Err: errors.New("503")}}, NewTranscriber(nil, cfg), NewSummarizer(nil, cfg), st.sink())

	_, err := s.Process(context.Background(), audio.File{Name: "a.wav", Data: []byte("RIFF")})
	var ue *upload.UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("want UploadError, got %v", err)
	}
	got := st.all()
	if got[len(got)-1] != "" {
		t.Fatalf("status not reset: got=%v", got)
	}
}

func TestSessionNewFileCancelsPrevious(t *testing.T) {
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/api/deepgram", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(block)

	cfg := Config{BaseURL: srv.URL}
	s := NewSession(nil, nil, nil, NewTranscriber(nil, cfg), NewSummarizer(nil, cfg), nil)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), audio.File{Name: "a.wav", Data: []byte("RIFF")})
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _ = s.Process(ctx, audio.File{Name: "b.wav", Data: []byte("RIFF")})

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first run: want context.Canceled got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("first run was not cancelled")
	}
}
