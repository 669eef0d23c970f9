// internal/browser/session/interaction.go
//
// Element-level operations. Every method takes an already resolved
// browser.Element; resolution and fallback policy live in the actions
// package. Top-document elements use native chromedp queries where they
// exist. Framed elements are driven by scripts evaluated in the frame's own
// execution context, with pointer input in main viewport coordinates.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/locator"
)

// Resolve polls the page until one alternative of expr matches or
// actions.resolve_timeout elapses.
func (s *Session) Resolve(ctx context.Context, expr locator.Expression, frame string) (browser.Element, error) {
	if expr.Empty() {
		return browser.Element{}, fmt.Errorf("%w: empty selector", browser.ErrElementNotFound)
	}
	if err := expr.Err(); err != nil {
		return browser.Element{}, fmt.Errorf("%w: %w", browser.ErrElementNotFound, err)
	}

	timeout := s.cfg.Actions().ResolveTimeout
	resCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ref := strconv.FormatUint(s.refSeq.Add(1), 10)
	script := locator.ResolveScript(expr, ref)
	poll := s.cfg.Actions().PollInterval

	var last locator.Resolution
	var frameErr error
	for {
		last = locator.Resolution{}
		err := s.evalResolve(resCtx, frame, script, &last)
		if err == nil && last.Found() {
			if last.Index > 0 {
				s.logger.Debug("Selector resolved by fallback alternative.",
					zap.String("selector", expr.Raw), zap.Int("alternative", last.Index))
			}
			return browser.Element{Selector: last.Selector, Frame: frame}, nil
		}
		switch {
		case errors.Is(err, browser.ErrFrameNotFound):
			frameErr = err
		case err == nil:
			frameErr = nil
		}

		select {
		case <-resCtx.Done():
			if ctx.Err() != nil {
				return browser.Element{}, ctx.Err()
			}
			if frameErr != nil {
				return browser.Element{}, frameErr
			}
			return browser.Element{}, fmt.Errorf("%w: no match for selector '%s' within %v", browser.ErrElementNotFound, expr.Raw, timeout)
		case <-time.After(poll):
		}
	}
}

// evalResolve runs the resolve script in the top document or, when frame is
// set, in the execution context of the frame with that name.
func (s *Session) evalResolve(ctx context.Context, frame, script string, res *locator.Resolution) error {
	if frame == "" {
		return s.evalFunc(ctx, script, res)
	}
	id, err := s.frames.Lookup(ctx, frame)
	if err != nil {
		return err
	}
	return s.frames.Eval(ctx, id, script, res)
}

// runQuery executes a native top-document element action under a bounded
// context.
func (s *Session) runQuery(ctx context.Context, el browser.Element, timeout time.Duration, what string, action chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.RunActions(opCtx, action); err != nil {
		return s.opError(ctx, opCtx, timeout, fmt.Sprintf("%s for selector '%s'", what, el.Selector), err)
	}
	return nil
}

// runElementScript evaluates an element script and maps its status to errors.
func (s *Session) runElementScript(ctx context.Context, el browser.Element, body string) (elementResult, error) {
	var res elementResult
	script := elementScript(el.Selector, body)
	var err error
	if el.Frame == "" {
		err = s.Evaluate(ctx, script, &res)
	} else {
		err = s.evalFrame(ctx, el.Frame, script, &res)
	}
	if err != nil {
		return res, err
	}
	switch res.Status {
	case statusOK:
		return res, nil
	case statusMissing:
		return res, fmt.Errorf("%w: '%s' detached from the document", browser.ErrElementNotFound, el.Selector)
	case statusNotEditable:
		return res, fmt.Errorf("%w: '%s'", browser.ErrNotEditable, el.Selector)
	case statusNotSelect:
		return res, fmt.Errorf("%w: '%s' is not a select element", browser.ErrOptionNotFound, el.Selector)
	case statusNoOption:
		return res, fmt.Errorf("%w: '%s'", browser.ErrOptionNotFound, el.Selector)
	case statusInvisible:
		return res, fmt.Errorf("%w: '%s' has an empty bounding box", browser.ErrNotVisible, el.Selector)
	default:
		return res, fmt.Errorf("unexpected script status %q for selector '%s'", res.Status, el.Selector)
	}
}

// WaitVisible blocks until the element is rendered or timeout elapses.
func (s *Session) WaitVisible(ctx context.Context, el browser.Element, timeout time.Duration) error {
	var err error
	if el.Frame == "" {
		err = s.runQuery(ctx, el, timeout, "wait visible", chromedp.WaitVisible(el.Selector, chromedp.ByQuery))
	} else {
		err = s.waitVisibleInFrame(ctx, el, timeout)
	}
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: '%s' after %v", browser.ErrNotVisible, el.Selector, timeout)
	}
	return err
}

// waitVisibleInFrame polls the element's box and computed style. A missing
// frame ends the wait at once.
func (s *Session) waitVisibleInFrame(ctx context.Context, el browser.Element, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	poll := s.cfg.Actions().PollInterval
	for {
		_, err := s.runElementScript(waitCtx, el, visibleBody)
		if err == nil {
			return nil
		}
		if errors.Is(err, browser.ErrFrameNotFound) {
			return err
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return waitCtx.Err()
		case <-time.After(poll):
		}
	}
}

// ScrollIntoView scrolls the element into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, el browser.Element) error {
	if el.Frame != "" {
		_, err := s.runElementScript(ctx, el, scrollIntoViewBody)
		return err
	}
	return s.runQuery(ctx, el, s.cfg.Actions().ActionTimeout, "scroll into view", chromedp.ScrollIntoView(el.Selector, chromedp.ByQuery))
}

// Click performs a native click, which waits for the element to be visible.
// Framed elements are clicked at the centre of their box with raw mouse
// events.
func (s *Session) Click(ctx context.Context, el browser.Element) error {
	if el.Frame == "" {
		return s.runQuery(ctx, el, s.cfg.Actions().VisibleTimeout, "click action", chromedp.Click(el.Selector, chromedp.ByQuery))
	}
	if err := s.WaitVisible(ctx, el, s.cfg.Actions().VisibleTimeout); err != nil {
		return err
	}
	if err := s.ScrollIntoView(ctx, el); err != nil {
		return err
	}
	box, err := s.BoundingBox(ctx, el)
	if err != nil {
		return err
	}
	return s.MouseClick(ctx, box.X+box.Width/2, box.Y+box.Height/2)
}

// ForceClick calls el.click() in page JS, skipping actionability checks.
func (s *Session) ForceClick(ctx context.Context, el browser.Element) error {
	_, err := s.runElementScript(ctx, el, forceClickBody)
	return err
}

// BoundingBox returns the element's box in top-level viewport coordinates.
func (s *Session) BoundingBox(ctx context.Context, el browser.Element) (schemas.BoundingBox, error) {
	res, err := s.runElementScript(ctx, el, boundingBoxBody)
	if err != nil {
		return schemas.BoundingBox{}, err
	}
	box := schemas.BoundingBox{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}
	if el.Frame == "" {
		return box, nil
	}
	err = s.framed(ctx, el.Frame, "frame offset", func(c context.Context, id cdp.FrameID) error {
		ox, oy, err := s.frames.Offset(c, id)
		box.X += ox
		box.Y += oy
		return err
	})
	if err != nil {
		return schemas.BoundingBox{}, err
	}
	return box, nil
}

// Focus focuses the element.
func (s *Session) Focus(ctx context.Context, el browser.Element) error {
	if el.Frame != "" {
		_, err := s.runElementScript(ctx, el, focusBody)
		return err
	}
	return s.runQuery(ctx, el, s.cfg.Actions().ActionTimeout, "focus", chromedp.Focus(el.Selector, chromedp.ByQuery))
}

// SetValue replaces the value of a native text field.
func (s *Session) SetValue(ctx context.Context, el browser.Element, value string) error {
	_, err := s.runElementScript(ctx, el, setValueBody(value))
	return err
}

// IsRichEditable reports whether the element is a contenteditable region.
func (s *Session) IsRichEditable(ctx context.Context, el browser.Element) (bool, error) {
	res, err := s.runElementScript(ctx, el, richEditableBody)
	return res.Rich, err
}

// SelectOption picks the option whose value, or failing that label, equals value.
func (s *Session) SelectOption(ctx context.Context, el browser.Element, value string) error {
	_, err := s.runElementScript(ctx, el, selectOptionBody(value))
	return err
}

// SetInputFiles attaches local files to a file input.
func (s *Session) SetInputFiles(ctx context.Context, el browser.Element, paths []string) error {
	if el.Frame != "" {
		return s.framed(ctx, el.Frame, "set input files", func(c context.Context, id cdp.FrameID) error {
			return s.frames.SetFiles(c, id, el.Selector, paths)
		})
	}
	return s.runQuery(ctx, el, s.cfg.Actions().ActionTimeout, "set input files", chromedp.SetUploadFiles(el.Selector, paths, chromedp.ByQuery))
}

// ScrollTo scrolls the top document to absolute coordinates.
func (s *Session) ScrollTo(ctx context.Context, x, y float64) error {
	var ok bool
	return s.Evaluate(ctx, fmt.Sprintf(scrollToScript, x, y), &ok)
}

// PageState captures the inputs to a content fingerprint, including the
// markup and form state of every child frame whatever its origin.
func (s *Session) PageState(ctx context.Context, scope string, includeForm bool) (browser.PageState, error) {
	var st browser.PageState
	if err := s.Evaluate(ctx, pageStateScript(scope, includeForm), &st); err != nil {
		return browser.PageState{}, err
	}
	frames, form, err := s.frameStates(ctx, includeForm)
	if err != nil {
		return browser.PageState{}, err
	}
	st.Frames = frames
	st.Form = append(st.Form, form...)
	return st, nil
}
