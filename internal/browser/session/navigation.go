// internal/browser/session/navigation.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Navigate loads url and waits until the DOM is ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating session.", zap.String("url", url))

	timeout := s.cfg.Network().NavigationTimeout
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.idle.reset()
	if err := s.RunActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return s.opError(ctx, navCtx, timeout, fmt.Sprintf("navigation to '%s'", url), err)
	}
	s.logger.Debug("Navigation complete.", zap.String("url", url))
	return nil
}

// WaitForLoad waits for document.readyState to reach "complete" and then for
// the network to stay quiet for network.post_load_wait.
func (s *Session) WaitForLoad(ctx context.Context) error {
	timeout := s.cfg.Network().NavigationTimeout
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := s.cfg.Actions().PollInterval
	for {
		var state string
		err := s.evalFunc(loadCtx, `document.readyState`, &state)
		if err == nil && state == "complete" {
			break
		}
		if err != nil {
			// Evaluation fails transiently while a new document commits.
			s.logger.Debug("readyState probe failed.", zap.Error(err))
		}
		select {
		case <-loadCtx.Done():
			return s.opError(ctx, loadCtx, timeout, "waiting for load", loadCtx.Err())
		case <-time.After(poll):
		}
	}

	return s.WaitNetworkIdle(ctx, s.cfg.Network().PostLoadWait)
}

// WaitNetworkIdle blocks until no request has been in flight for quiet,
// bounded by network.idle_timeout.
func (s *Session) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	timeout := s.cfg.Network().IdleTimeout
	idleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.idle.Wait(idleCtx, quiet); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("network did not become idle within %v: %w", timeout, err)
	}
	return nil
}
