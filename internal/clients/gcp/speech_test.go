package gcp

import (
	"context"
	"errors"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

func word(w string, start, end float64, tag int32) *speechpb.WordInfo {
	return &speechpb.WordInfo{
		Word:       w,
		StartTime:  durationpb.New(time.Duration(start * float64(time.Second))),
		EndTime:    durationpb.New(time.Duration(end * float64(time.Second))),
		SpeakerTag: tag,
		Confidence: 0.9,
	}
}

func TestSpeechToResultUsesDiarizedWords(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "Hi there. Bye.",
				Confidence: 0.8,
				Words:      []*speechpb.WordInfo{word("Hi", 0, 0.4, 0), word("there.", 0.5, 0.9, 0), word("Bye.", 1, 1.2, 0)},
			}}},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Words: []*speechpb.WordInfo{word("Hi", 0, 0.4, 1), word("there.", 0.5, 0.9, 1), word("Bye.", 1, 1.2, 2)},
			}}},
		},
	}

	res := speechToResult(resp, true)
	words := res.Words()
	if len(words) != 3 {
		t.Fatalf("words: want=3 got=%d", len(words))
	}
	if words[0].Speaker != 0 || words[2].Speaker != 1 {
		t.Fatalf("speakers: got=%d,%d", words[0].Speaker, words[2].Speaker)
	}
	if words[1].PunctuatedWord != "there." || words[1].Word != "there" {
		t.Fatalf("word forms: got=%+v", words[1])
	}
	if words[2].Start != 1 {
		t.Fatalf("start: want=1 got=%v", words[2].Start)
	}
	if got := res.Results.Channels[0].Alternatives[0].Transcript; got != "Hi there. Bye." {
		t.Fatalf("transcript: got=%q", got)
	}
	if len(res.Results.Utterances) != 2 || res.Results.Utterances[0].Transcript != "Hi there." {
		t.Fatalf("utterances: got=%+v", res.Results.Utterances)
	}
	if len(res.Metadata) == 0 {
		t.Fatalf("metadata: want non-empty")
	}
}

func TestSpeechToResultEmptyResponse(t *testing.T) {
	res := speechToResult(nil, true)
	if res.Words() == nil || len(res.Words()) != 0 {
		t.Fatalf("words: want empty non-nil got=%v", res.Words())
	}
}

func TestInferSpeechEncoding(t *testing.T) {
	cases := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"audio/wav":  speechpb.RecognitionConfig_LINEAR16,
		"audio/mpeg": speechpb.RecognitionConfig_MP3,
		"audio/flac": speechpb.RecognitionConfig_FLAC,
		"audio/ogg":  speechpb.RecognitionConfig_OGG_OPUS,
		"":           speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
	}
	for in, want := range cases {
		if got := inferSpeechEncoding(in); got != want {
			t.Fatalf("inferSpeechEncoding(%q): want=%v got=%v", in, want, got)
		}
	}
}

func TestRetryLRRetriesOnlyTransientCodes(t *testing.T) {
	s := &Speech{log: logger.NewNop(), maxRetries: 3, backoff: time.Millisecond}

	calls := 0
	_, err := s.retryLR(context.Background(), func() (*speechpb.LongRunningRecognizeResponse, error) {
		calls++
		if calls < 3 {
			return nil, status.Error(codes.Unavailable, "try again")
		}
		return &speechpb.LongRunningRecognizeResponse{}, nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("transient: calls=%d err=%v", calls, err)
	}

	calls = 0
	_, err = s.retryLR(context.Background(), func() (*speechpb.LongRunningRecognizeResponse, error) {
		calls++
		return nil, status.Error(codes.InvalidArgument, "bad audio")
	})
	if status.Code(err) != codes.InvalidArgument || calls != 1 {
		t.Fatalf("permanent: calls=%d err=%v", calls, err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancellation")
	}
}
