// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries primary's values (the CDP
// target lives there) and is canceled when either primary or secondary is
// done. The returned CancelFunc releases the link to secondary.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// detached keeps its parent's values but none of its deadline or cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context that shares ctx's values but outlives it. Used
// for cleanup work that must still reach the tab after the caller gave up.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}
