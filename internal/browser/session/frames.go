// internal/browser/session/frames.go
//
// Framed elements are reached through the CDP frame tree rather than through
// contentDocument, so iframes from any origin are addressable. Each frame gets
// an isolated world; the DOM is shared with page scripts, globals are not.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/browser"
)

const isolatedWorldName = "mender"

// frameBackend evaluates scripts inside child frames of the tab.
type frameBackend interface {
	// Lookup finds the first frame below the main frame whose name attribute
	// equals name. It fails with browser.ErrFrameNotFound when none does.
	Lookup(ctx context.Context, name string) (cdp.FrameID, error)
	// Children lists every frame below the main frame in document order.
	Children(ctx context.Context) ([]cdp.FrameID, error)
	// Eval runs script in the frame and decodes its value into res.
	Eval(ctx context.Context, id cdp.FrameID, script string, res interface{}) error
	// Offset is the top-left of the frame's content box in main viewport
	// coordinates.
	Offset(ctx context.Context, id cdp.FrameID) (x, y float64, err error)
	// SetFiles attaches paths to the file input selector matches in the frame.
	SetFiles(ctx context.Context, id cdp.FrameID, selector string, paths []string) error
}

// cdpFrames is the production frameBackend.
type cdpFrames struct {
	run func(ctx context.Context, actions ...chromedp.Action) error

	mu     sync.Mutex
	worlds map[cdp.FrameID]runtime.ExecutionContextID
}

var _ frameBackend = (*cdpFrames)(nil)

func newCDPFrames(run func(ctx context.Context, actions ...chromedp.Action) error) *cdpFrames {
	return &cdpFrames{run: run, worlds: make(map[cdp.FrameID]runtime.ExecutionContextID)}
}

func (f *cdpFrames) tree(ctx context.Context) (*page.FrameTree, error) {
	var tree *page.FrameTree
	err := f.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}
	if tree == nil {
		return &page.FrameTree{}, nil
	}
	return tree, nil
}

func (f *cdpFrames) Lookup(ctx context.Context, name string) (cdp.FrameID, error) {
	tree, err := f.tree(ctx)
	if err != nil {
		return "", err
	}
	if fr := findFrame(tree.ChildFrames, name); fr != nil {
		return fr.ID, nil
	}
	return "", fmt.Errorf("%w: no frame named '%s'", browser.ErrFrameNotFound, name)
}

func findFrame(children []*page.FrameTree, name string) *cdp.Frame {
	for _, child := range children {
		if child == nil || child.Frame == nil {
			continue
		}
		if child.Frame.Name == name {
			return child.Frame
		}
		if fr := findFrame(child.ChildFrames, name); fr != nil {
			return fr
		}
	}
	return nil
}

func (f *cdpFrames) Children(ctx context.Context) ([]cdp.FrameID, error) {
	tree, err := f.tree(ctx)
	if err != nil {
		return nil, err
	}
	var ids []cdp.FrameID
	var walk func([]*page.FrameTree)
	walk = func(children []*page.FrameTree) {
		for _, child := range children {
			if child == nil || child.Frame == nil {
				continue
			}
			ids = append(ids, child.Frame.ID)
			walk(child.ChildFrames)
		}
	}
	walk(tree.ChildFrames)
	return ids, nil
}

// world returns the cached isolated world for id, creating it on first use.
func (f *cdpFrames) world(ctx context.Context, id cdp.FrameID) (runtime.ExecutionContextID, error) {
	f.mu.Lock()
	w, ok := f.worlds[id]
	f.mu.Unlock()
	if ok {
		return w, nil
	}
	w, err := page.CreateIsolatedWorld(id).WithWorldName(isolatedWorldName).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot enter frame %s: %v", browser.ErrFrameNotFound, id, err)
	}
	f.mu.Lock()
	f.worlds[id] = w
	f.mu.Unlock()
	return w, nil
}

func (f *cdpFrames) forget(id cdp.FrameID) {
	f.mu.Lock()
	delete(f.worlds, id)
	f.mu.Unlock()
}

// evaluate runs params in the frame's world. A world dies when its frame
// navigates, so a failed call is retried once in a fresh one.
func (f *cdpFrames) evaluate(ctx context.Context, id cdp.FrameID, params *runtime.EvaluateParams) (*runtime.RemoteObject, error) {
	for attempt := 0; ; attempt++ {
		w, err := f.world(ctx, id)
		if err != nil {
			return nil, err
		}
		obj, exc, err := params.WithContextID(w).Do(ctx)
		if err != nil {
			f.forget(id)
			if attempt == 0 && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		if exc != nil {
			return nil, exc
		}
		return obj, nil
	}
}

func (f *cdpFrames) Eval(ctx context.Context, id cdp.FrameID, script string, res interface{}) error {
	var raw []byte
	err := f.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := f.evaluate(c, id, runtime.Evaluate(script).WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true))
		if err != nil {
			return err
		}
		if obj != nil {
			raw = []byte(obj.Value)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode frame script result: %w (payload: %s)", err, truncate(string(raw), 200))
	}
	return nil
}

func (f *cdpFrames) Offset(ctx context.Context, id cdp.FrameID) (float64, float64, error) {
	var x, y float64
	err := f.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		owner, _, err := dom.GetFrameOwner(id).Do(c)
		if err != nil {
			return fmt.Errorf("%w: no owner element for frame %s: %v", browser.ErrFrameNotFound, id, err)
		}
		box, err := dom.GetBoxModel().WithBackendNodeID(owner).Do(c)
		if err != nil {
			return err
		}
		if box == nil || len(box.Content) < 2 {
			return fmt.Errorf("%w: frame %s has no layout box", browser.ErrNotVisible, id)
		}
		x, y = box.Content[0], box.Content[1]
		return nil
	}))
	return x, y, err
}

func (f *cdpFrames) SetFiles(ctx context.Context, id cdp.FrameID, selector string, paths []string) error {
	return f.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := f.evaluate(c, id, runtime.Evaluate(fmt.Sprintf("document.querySelector(%s)", jsonEncode(selector))))
		if err != nil {
			return err
		}
		if obj == nil || obj.ObjectID == "" {
			return fmt.Errorf("%w: '%s' detached from the document", browser.ErrElementNotFound, selector)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(c) }()
		return dom.SetFileInputFiles(paths).WithObjectID(obj.ObjectID).Do(c)
	}))
}

// framed looks up the named frame and runs fn under the action timeout. A missing
// frame is returned as is; other failures go through opError.
func (s *Session) framed(ctx context.Context, frame, what string, fn func(ctx context.Context, id cdp.FrameID) error) error {
	timeout := s.cfg.Actions().ActionTimeout
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, err := s.frames.Lookup(opCtx, frame)
	if err == nil {
		err = fn(opCtx, id)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && s.ctx.Err() == nil && isElementError(err) {
		return err
	}
	return s.opError(ctx, opCtx, timeout, fmt.Sprintf("%s in frame '%s'", what, frame), err)
}

// isElementError reports whether err is one of the driver's element-level
// sentinels, which callers branch on.
func isElementError(err error) bool {
	for _, target := range []error{browser.ErrFrameNotFound, browser.ErrElementNotFound, browser.ErrNotVisible, browser.ErrNotEditable, browser.ErrOptionNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// evalFrame runs script inside the named frame.
func (s *Session) evalFrame(ctx context.Context, frame, script string, res interface{}) error {
	return s.framed(ctx, frame, "script evaluation", func(c context.Context, id cdp.FrameID) error {
		return s.frames.Eval(c, id, script, res)
	})
}

// frameStates gathers the markup and form state of every child frame. Frames
// that fail mid-navigation are skipped.
func (s *Session) frameStates(ctx context.Context, includeForm bool) (html, form []string, err error) {
	timeout := s.cfg.Actions().ActionTimeout
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ids, err := s.frames.Children(opCtx)
	if err != nil {
		return nil, nil, s.opError(ctx, opCtx, timeout, "frame listing", err)
	}
	script := frameStateScript(includeForm)
	for _, id := range ids {
		var st struct {
			HTML string   `json:"html"`
			Form []string `json:"form"`
		}
		if err := s.frames.Eval(opCtx, id, script, &st); err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			s.logger.Debug("Skipping unreadable frame.", zap.String("frame_id", string(id)), zap.Error(err))
			continue
		}
		if st.HTML != "" {
			html = append(html, st.HTML)
		}
		form = append(form, st.Form...)
	}
	return html, form, nil
}
