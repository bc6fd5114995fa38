package query

import "time"

// Outcome labels how a fetch settled.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Recorder receives lifecycle events from the Store.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	FetchStarted(key Key)
	FetchDeduped(key Key)
	FetchResolved(key Key, outcome Outcome, elapsed time.Duration)
	StaleDiscarded(key Key)
}

// NoopRecorder discards every event. It is the Store's default.
type NoopRecorder struct{}

func (NoopRecorder) FetchStarted(Key)                          {}
func (NoopRecorder) FetchDeduped(Key)                          {}
func (NoopRecorder) FetchResolved(Key, Outcome, time.Duration) {}
func (NoopRecorder) StaleDiscarded(Key)                        {}
