// Package domain holds the value types shared by the transcription and
// summarization flows: provider words, transcript groups, stream events and
// upload sessions.
package domain

// StatusSink receives human-readable status updates in emission order.
// A nil sink drops them.
type StatusSink func(status string)

func (s StatusSink) Emit(status string) {
	if s != nil {
		s(status)
	}
}
