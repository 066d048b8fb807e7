package domain

type EventKind int

const (
	EventStatus EventKind = iota + 1
	EventProgress
	EventResult
	EventSummary
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventProgress:
		return "message"
	case EventResult:
		return "result"
	case EventSummary:
		return "summary"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// StreamEvent is one decoded record of a status/result stream.
// Exactly one payload field is meaningful for a given Kind. RequestID is
// only carried by error records, to match them with server logs.
type StreamEvent struct {
	Kind      EventKind
	Status    string
	Result    *TranscriptionResult
	Summary   string
	Error     string
	RequestID string
}

func StatusEvent(s string) StreamEvent   { return StreamEvent{Kind: EventStatus, Status: s} }
func ProgressEvent(s string) StreamEvent { return StreamEvent{Kind: EventProgress, Status: s} }
func SummaryEvent(s string) StreamEvent  { return StreamEvent{Kind: EventSummary, Summary: s} }
func ErrorEvent(s string) StreamEvent    { return StreamEvent{Kind: EventError, Error: s} }
func DoneEvent() StreamEvent             { return StreamEvent{Kind: EventDone} }

func ResultEvent(r *TranscriptionResult) StreamEvent {
	return StreamEvent{Kind: EventResult, Result: r}
}
