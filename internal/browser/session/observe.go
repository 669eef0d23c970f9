// internal/browser/session/observe.go
package session

import (
	"context"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/chromedp"
)

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	timeout := s.cfg.Actions().ActionTimeout
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf []byte
	if err := s.RunActions(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, s.opError(ctx, opCtx, timeout, "screenshot capture", err)
	}
	return buf, nil
}

// AccessibilityNodes returns the flat full accessibility tree of the top frame.
func (s *Session) AccessibilityNodes(ctx context.Context) ([]*accessibility.Node, error) {
	timeout := s.cfg.Actions().ActionTimeout
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*accessibility.Node
	err := s.RunActions(opCtx,
		accessibility.Enable(),
		chromedp.ActionFunc(func(c context.Context) error {
			var err error
			nodes, err = accessibility.GetFullAXTree().Do(c)
			return err
		}),
	)
	if err != nil {
		return nil, s.opError(ctx, opCtx, timeout, "accessibility tree fetch", err)
	}
	return nodes, nil
}
