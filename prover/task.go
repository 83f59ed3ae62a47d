package prover

import (
	"context"
	"time"

	"zkrwa-prover/notary"
)

// explainWait bounds how long a foreground failure waits for the engine's own error
const explainWait = 100 * time.Millisecond

// drainWait bounds how long a finished session waits for the background task
const drainWait = 5 * time.Second

// task tracks the engine's background protocol task. Its channel yields
// exactly one result.
type task struct {
	done   <-chan notary.ConnectResult
	result *notary.ConnectResult
}

func (t *task) take(r notary.ConnectResult) notary.ConnectResult {
	t.result = &r
	return r
}

// wait joins the task or gives up when ctx ends
func (t *task) wait(ctx context.Context) (notary.ConnectResult, error) {
	if t.result != nil {
		return *t.result, nil
	}
	select {
	case r := <-t.done:
		return t.take(r), nil
	case <-ctx.Done():
		return notary.ConnectResult{}, ctx.Err()
	}
}

// explain returns the engine's failure when the task has already died,
// since that is usually what broke the proxied connection
func (t *task) explain(foreground error) error {
	if t.result == nil {
		select {
		case r := <-t.done:
			t.take(r)
		case <-time.After(explainWait):
			return foreground
		}
	}
	if t.result.Err != nil {
		return t.result.Err
	}
	return foreground
}

// drain waits up to limit for the task to report. It returns false when the
// engine did not report in time and the task was abandoned.
func (t *task) drain(limit time.Duration) bool {
	if t.result != nil {
		return true
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case r := <-t.done:
		t.take(r)
		return true
	case <-timer.C:
		return false
	}
}
