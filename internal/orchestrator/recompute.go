package orchestrator

import (
	"context"
	"sync"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/transcript"
)

type SummarizeFunc func(ctx context.Context, groups []domain.TranscriptGroup, sink domain.StatusSink) (string, error)

// SummaryResult is the outcome of one recompute run.
type SummaryResult struct {
	Groups  []domain.TranscriptGroup
	Summary string
	Err     error
}

// Recomputer keeps a summary in step with the group sequence it was last
// given. A run starts only when the sequence changes; a newer sequence
// cancels the run in flight.
type Recomputer struct {
	summarize SummarizeFunc
	sink      domain.StatusSink

	mu       sync.Mutex
	version  int
	last     []domain.TranscriptGroup
	started  bool
	summary  string
	haveLast bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRecomputer(summarize SummarizeFunc, sink domain.StatusSink) *Recomputer {
	return &Recomputer{summarize: summarize, sink: sink}
}

// Update starts a run for groups unless they equal the sequence of the
// latest run. The returned channel receives that run's result and is then
// closed; it is nil when nothing changed. A superseded run reports
// context.Canceled.
func (r *Recomputer) Update(ctx context.Context, groups []domain.TranscriptGroup) <-chan SummaryResult {
	r.mu.Lock()
	if r.started && transcript.Equal(groups, r.last) {
		r.mu.Unlock()
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.version++
	v := r.version
	r.last = append([]domain.TranscriptGroup(nil), groups...)
	r.started = true
	r.haveLast = false
	r.mu.Unlock()

	out := make(chan SummaryResult, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)
		defer cancel()
		summary, err := r.summarize(runCtx, groups, r.sink)

		r.mu.Lock()
		current := v == r.version
		if current && err == nil {
			r.summary = summary
			r.haveLast = true
		}
		if !current && err == nil {
			err = context.Canceled
		}
		r.mu.Unlock()
		out <- SummaryResult{Groups: groups, Summary: summary, Err: err}
	}()
	return out
}

// Last returns the summary of the latest completed run for the current
// group sequence.
func (r *Recomputer) Last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, r.haveLast
}

// Reset forgets the last sequence and cancels any run in flight.
func (r *Recomputer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.version++
	r.last = nil
	r.started = false
	r.summary = ""
	r.haveLast = false
}

// Wait blocks until every started run has finished.
func (r *Recomputer) Wait() { r.wg.Wait() }
