package orchestrator

import (
	"errors"
	"fmt"
)

var ErrNothingToSummarize = errors.New("nothing to summarize")

// TranscriptionRequestError is a non-2xx answer to the transcription
// request. The body was not read as a stream.
type TranscriptionRequestError struct {
	StatusCode int
	Body       string
}

func (e *TranscriptionRequestError) Error() string {
	return fmt.Sprintf("transcription request failed: http %d: %s", e.StatusCode, e.Body)
}

func (e *TranscriptionRequestError) HTTPStatusCode() int { return e.StatusCode }

// TranscriptionStreamError is an error reported inside the stream, or a
// stream that ended without a result. RequestID is set when the server's
// error record carried one.
type TranscriptionStreamError struct {
	Message   string
	RequestID string
	Err       error
}

func (e *TranscriptionStreamError) Error() string {
	return streamErrorText("transcription stream", e.Message, e.RequestID, e.Err)
}

func (e *TranscriptionStreamError) Unwrap() error { return e.Err }

type SummaryRequestError struct {
	StatusCode int
	Body       string
}

func (e *SummaryRequestError) Error() string {
	return fmt.Sprintf("summary request failed: http %d: %s", e.StatusCode, e.Body)
}

func (e *SummaryRequestError) HTTPStatusCode() int { return e.StatusCode }

type SummaryStreamError struct {
	Message   string
	RequestID string
	Err       error
}

func (e *SummaryStreamError) Error() string {
	return streamErrorText("summary stream", e.Message, e.RequestID, e.Err)
}

func (e *SummaryStreamError) Unwrap() error { return e.Err }

func streamErrorText(prefix, msg, requestID string, err error) string {
	s := prefix + ": " + msg
	if requestID != "" {
		s += fmt.Sprintf(" (request %s)", requestID)
	}
	if err != nil {
		s += fmt.Sprintf(": %v", err)
	}
	return s
}
