// internal/browser/session/interfaces.go
package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs raw chromedp actions against the session's tab. The
// storage loader and the idle monitor depend on this rather than on Session.
type ActionExecutor interface {
	// RunActions binds actions to both ctx and the session lifetime.
	RunActions(ctx context.Context, actions ...chromedp.Action) error

	// RunBackgroundActions ignores ctx's cancellation. Used for teardown.
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}
