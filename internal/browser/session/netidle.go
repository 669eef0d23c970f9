// internal/browser/session/netidle.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// idleMonitor counts in-flight requests from CDP network events so the
// session can wait for a quiet network after navigation.
type idleMonitor struct {
	logger *zap.Logger

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time

	now func() time.Time
}

func newIdleMonitor(logger *zap.Logger) *idleMonitor {
	return &idleMonitor{
		logger:       logger.Named("netidle"),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

// handleEvent is registered with chromedp.ListenTarget. It runs on the CDP
// event goroutine and must not block.
func (m *idleMonitor) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Streams never finish; counting them would prevent idleness forever.
		if e.Type == network.ResourceTypeEventSource || e.Type == network.ResourceTypeWebSocket {
			return
		}
		m.mu.Lock()
		m.inflight[e.RequestID] = struct{}{}
		m.lastActivity = m.now()
		m.mu.Unlock()
	case *network.EventLoadingFinished:
		m.done(e.RequestID)
	case *network.EventLoadingFailed:
		m.done(e.RequestID)
	}
}

func (m *idleMonitor) done(id network.RequestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; ok {
		delete(m.inflight, id)
		m.lastActivity = m.now()
	}
}

// snapshot returns the in-flight count and the time since the last change.
func (m *idleMonitor) snapshot() (int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight), m.now().Sub(m.lastActivity)
}

// reset forgets requests from a previous document. A navigation aborts them
// without always reporting loadingFailed.
func (m *idleMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = make(map[network.RequestID]struct{})
	m.lastActivity = m.now()
}

// Wait blocks until no request has been in flight for quiet, or ctx ends.
func (m *idleMonitor) Wait(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	tick := quiet / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		n, since := m.snapshot()
		if n == 0 && since >= quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			m.logger.Debug("Network idle wait aborted.", zap.Int("inflight_requests", n), zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
