// internal/browser/session/session.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
)

// Session drives a single Chrome tab over CDP and implements browser.Driver.
// It is owned by exactly one run; calls are not safe for concurrent use.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.Interface

	idle *idleMonitor

	// runActionsFunc and evalFunc are seams for tests. Production values go
	// through chromedp on the session context.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	evalFunc       func(ctx context.Context, script string, res interface{}) error
	// frames reaches into child frames through the CDP frame tree.
	frames frameBackend

	refSeq atomic.Uint64

	mouseMu    sync.Mutex
	mouseX     float64
	mouseY     float64
	allocClose context.CancelFunc
	closeOnce  sync.Once
}

var (
	_ browser.Driver = (*Session)(nil)
	_ ActionExecutor = (*Session)(nil)
)

// New launches Chrome with options derived from cfg, opens a tab and starts
// network tracking. Close releases the tab and the browser process.
func New(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)

	var ctxOpts []chromedp.ContextOption
	if cfg.Browser().Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(logger.Named("cdp").Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s := newSession(tabCtx, tabCancel, cfg, logger)
	s.allocClose = allocCancel

	// The first Run allocates the browser and binds its process to the
	// context it is given, so it must be the tab context itself.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.Network().NavigationTimeout)
	defer cancel()
	if err := s.initialize(initCtx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newSession wires a Session around an existing tab context without touching
// the browser.
func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.Interface, logger *zap.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		cfg:    cfg,
	}
	s.idle = newIdleMonitor(s.logger)
	s.runActionsFunc = s.runActions
	s.evalFunc = s.evaluateCDP
	s.frames = newCDPFrames(s.RunActions)

	vp := cfg.Browser().Viewport
	s.mouseX, s.mouseY = float64(vp["width"])/2, float64(vp["height"])/2
	return s
}

// initialize enables the domains the session relies on and applies
// per-session network settings.
func (s *Session) initialize(ctx context.Context) error {
	chromedp.ListenTarget(s.ctx, s.idle.handleEvent)

	tasks := chromedp.Tasks{network.Enable()}
	if headers := s.cfg.Network().Headers; len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(h))
	}
	if vp := s.cfg.Browser().Viewport; vp["width"] > 0 && vp["height"] > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(vp["width"]), int64(vp["height"])))
	}
	if err := s.RunActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to run session initialization tasks: %w", err)
	}
	s.logger.Debug("Session initialized.")
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close terminates the tab and the browser. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		if s.cancel != nil {
			s.cancel()
		}
		if s.allocClose != nil {
			s.allocClose()
		}
	})
}

// RunActions executes actions bound to both the session lifetime and ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.runActionsFunc(ctx, actions...)
}

// RunBackgroundActions executes actions detached from ctx's cancellation.
func (s *Session) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.runActionsFunc(Detach(ctx), actions...)
}

func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Evaluate runs script in the top document and decodes its value into res.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	timeout := s.cfg.Actions().ActionTimeout
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.evalFunc(opCtx, script, res)
	if err != nil {
		return s.opError(ctx, opCtx, timeout, "script evaluation", err)
	}
	return nil
}

func (s *Session) evaluateCDP(ctx context.Context, script string, res interface{}) error {
	var raw json.RawMessage
	if err := s.RunActions(ctx, chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})); err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode script result: %w (payload: %s)", err, truncate(string(raw), 200))
	}
	return nil
}

// opError normalizes an operation failure. Caller and session cancellation
// win over the operation's own deadline, which wins over the raw error.
func (s *Session) opError(ctx, opCtx context.Context, timeout time.Duration, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %v: %w", what, timeout, opCtx.Err())
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// allocatorOptions translates browser configuration into chromedp allocator flags.
func allocatorOptions(cfg config.Interface) []chromedp.ExecAllocatorOption {
	bc := cfg.Browser()
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", bc.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		// Cross-origin iframes stay in the tab's process, so the tab's frame
		// tree and isolated worlds cover them.
		chromedp.Flag("disable-features", "site-per-process,IsolateOrigins,Translate,BlinkGenPropertyTrees"),
		chromedp.Flag("disable-site-isolation-trials", true),
	)
	if bc.Headless {
		opts = append(opts, chromedp.DisableGPU)
	}
	if bc.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if bc.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(bc.ExecPath))
	}
	if bc.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bc.UserAgent))
	}
	if w, h := bc.Viewport["width"], bc.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	for _, arg := range bc.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}
