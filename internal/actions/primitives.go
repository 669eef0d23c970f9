// internal/actions/primitives.go
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/locator"
	"github.com/xkilldash9x/mender/internal/observability"
)

// ErrUnknownAction is returned by Dispatch for actions outside the allowed set.
var ErrUnknownAction = errors.New("unknown action")

// ErrInvalidStep is returned when a step lacks a field its action needs.
var ErrInvalidStep = errors.New("invalid step")

// ActionHandler performs one action against the page.
type ActionHandler func(ctx context.Context, d browser.Driver, step schemas.Step) error

// Primitives maps each action kind to its handler. It holds no page state;
// the driver is passed per call.
type Primitives struct {
	logger   *zap.Logger
	cfg      config.ActionsConfig
	metrics  *observability.Metrics
	handlers map[schemas.Action]ActionHandler

	clickChain []clickStrategy
	fillChain  []fillStrategy
	selectAll  schemas.KeyEventData

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the handler table and the strategy chains from configuration.
// metrics may be nil.
func New(cfg config.Interface, logger *zap.Logger, metrics *observability.Metrics) (*Primitives, error) {
	ac := cfg.Actions()
	chain, err := buildClickChain(ac.ClickStrategies)
	if err != nil {
		return nil, err
	}
	selectAll, err := browser.ParseKeyCombo(ac.SelectAllKeyCombo)
	if err != nil {
		return nil, fmt.Errorf("invalid actions.select_all_key_combo: %w", err)
	}

	p := &Primitives{
		logger:     logger.Named("actions"),
		cfg:        ac,
		metrics:    metrics,
		handlers:   make(map[schemas.Action]ActionHandler),
		clickChain: chain,
		fillChain:  defaultFillChain,
		selectAll:  selectAll,
		sleep:      sleepCtx,
	}
	p.registerHandlers()
	return p, nil
}

func (p *Primitives) registerHandlers() {
	p.handlers[schemas.ActionGoto] = p.handleGoto
	p.handlers[schemas.ActionClick] = p.handleClick
	p.handlers[schemas.ActionType] = p.handleType
	p.handlers[schemas.ActionPress] = p.handleKeyboardPress
	p.handlers[schemas.ActionKeyboardType] = p.handleKeyboardType
	p.handlers[schemas.ActionKeyboardPress] = p.handleKeyboardPress
	p.handlers[schemas.ActionHover] = p.handleHover
	p.handlers[schemas.ActionWaitFor] = p.handleWaitFor
	p.handlers[schemas.ActionWait] = p.handleWait
	p.handlers[schemas.ActionWaitForNavigation] = p.handleWaitForNavigation
	p.handlers[schemas.ActionScrollTo] = p.handleScrollTo
	p.handlers[schemas.ActionScrollBy] = p.handleScrollBy
	p.handlers[schemas.ActionSelectOption] = p.handleSelectOption
	p.handlers[schemas.ActionUploadFile] = p.handleUploadFile
	p.handlers[schemas.ActionSetTitle] = p.handleSetTitle
	p.handlers[schemas.ActionFrameClick] = p.handleFrameClick
	p.handlers[schemas.ActionFrameType] = p.handleFrameType
	p.handlers[schemas.ActionScreenshot] = p.handleScreenshot
}

// Handles reports whether action has a handler.
func (p *Primitives) Handles(action schemas.Action) bool {
	_, ok := p.handlers[action]
	return ok
}

// Dispatch runs the handler for step.Action.
func (p *Primitives) Dispatch(ctx context.Context, d browser.Driver, step schemas.Step) error {
	handler, ok := p.handlers[step.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
	}
	p.logger.Debug("Dispatching action.",
		zap.String("action", string(step.Action)),
		zap.String("selector", step.Selector),
		zap.String("frame", step.FrameName))
	return handler(ctx, d, step)
}

// -- Action Handlers --

func (p *Primitives) handleGoto(ctx context.Context, d browser.Driver, step schemas.Step) error {
	url, ok := step.Value.Text()
	if !ok || url == "" {
		return fmt.Errorf("%w: goto requires a 'value' (URL)", ErrInvalidStep)
	}
	return d.Navigate(ctx, url)
}

func (p *Primitives) handleClick(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: click requires a 'selector'", ErrInvalidStep)
	}
	return p.click(ctx, d, step.Selector, "")
}

func (p *Primitives) handleType(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: type requires a 'selector'", ErrInvalidStep)
	}
	text, ok := step.Value.Text()
	if !ok {
		return fmt.Errorf("%w: type requires a text 'value'", ErrInvalidStep)
	}
	return p.fill(ctx, d, step.Selector, "", text)
}

func (p *Primitives) handleKeyboardType(ctx context.Context, d browser.Driver, step schemas.Step) error {
	text, ok := step.Value.Text()
	if !ok {
		return fmt.Errorf("%w: keyboard_type requires a text 'value'", ErrInvalidStep)
	}
	if step.Selector != "" {
		if err := p.focus(ctx, d, step.Selector, step.FrameName); err != nil {
			return err
		}
	}
	return d.TypeText(ctx, text, 0)
}

// handleKeyboardPress serves press and keyboard_press. Without a selector the
// key goes to whatever has focus.
func (p *Primitives) handleKeyboardPress(ctx context.Context, d browser.Driver, step schemas.Step) error {
	key, err := p.keyFromValue(step)
	if err != nil {
		return err
	}
	if step.Selector != "" {
		if err := p.focus(ctx, d, step.Selector, step.FrameName); err != nil {
			return err
		}
	}
	return d.PressKey(ctx, key)
}

func (p *Primitives) handleHover(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: hover requires a 'selector'", ErrInvalidStep)
	}
	el, err := d.Resolve(ctx, locator.Parse(step.Selector), step.FrameName)
	if err != nil {
		return err
	}
	if err := d.ScrollIntoView(ctx, el); err != nil {
		return err
	}
	box, err := d.BoundingBox(ctx, el)
	if err != nil {
		return err
	}
	if box.Empty() {
		return fmt.Errorf("%w: '%s'", browser.ErrNotVisible, step.Selector)
	}
	x, y := box.Center()
	return d.MouseMove(ctx, x, y)
}

// handleWaitFor keeps resolving until the element appears or
// actions.wait_for_timeout expires.
func (p *Primitives) handleWaitFor(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: wait_for requires a 'selector'", ErrInvalidStep)
	}
	timeout := p.cfg.WaitForTimeout
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	expr := locator.Parse(step.Selector)
	var lastErr error
	for {
		_, err := d.Resolve(waitCtx, expr, step.FrameName)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if waitCtx.Err() != nil {
			if lastErr == nil {
				lastErr = err
			}
			return fmt.Errorf("wait_for '%s' timed out after %v: %w", step.Selector, timeout, lastErr)
		}
		if !errors.Is(err, browser.ErrElementNotFound) && !errors.Is(err, browser.ErrFrameNotFound) {
			return err
		}
		lastErr = err
		if err := p.sleep(waitCtx, p.cfg.PollInterval); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleWait sleeps for value milliseconds. An unusable value falls back to
// actions.default_wait.
func (p *Primitives) handleWait(ctx context.Context, _ browser.Driver, step schemas.Step) error {
	d := p.cfg.DefaultWait
	if ms, ok := step.Value.Number(); ok && ms >= 0 {
		d = time.Duration(ms * float64(time.Millisecond))
	} else {
		p.logger.Warn("Invalid wait value, using default.",
			zap.String("value", step.Value.String()),
			zap.Duration("default", d))
	}
	return p.sleep(ctx, d)
}

func (p *Primitives) handleWaitForNavigation(ctx context.Context, d browser.Driver, _ schemas.Step) error {
	return d.WaitForLoad(ctx)
}

func (p *Primitives) handleScrollTo(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector != "" {
		el, err := d.Resolve(ctx, locator.Parse(step.Selector), step.FrameName)
		if err != nil {
			return err
		}
		if err := d.ScrollIntoView(ctx, el); err != nil {
			return err
		}
	} else if x, y, ok := step.Value.Offset(0, 0); ok {
		if err := d.ScrollTo(ctx, x, y); err != nil {
			return err
		}
	} else {
		return fmt.Errorf("%w: scroll_to requires a 'selector' or an {x, y} 'value'", ErrInvalidStep)
	}
	return p.sleep(ctx, p.cfg.ScrollSettle)
}

func (p *Primitives) handleScrollBy(ctx context.Context, d browser.Driver, step schemas.Step) error {
	dx, dy := 0.0, p.cfg.DefaultScrollY
	if x, y, ok := step.Value.Offset(0, p.cfg.DefaultScrollY); ok {
		dx, dy = x, y
	} else if !step.Value.IsZero() {
		return fmt.Errorf("%w: scroll_by 'value' must be an {x, y} offset, got %s", ErrInvalidStep, step.Value.Kind())
	}
	if err := d.MouseWheel(ctx, dx, dy); err != nil {
		return err
	}
	return p.sleep(ctx, p.cfg.ScrollSettle)
}

func (p *Primitives) handleSelectOption(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: select_option requires a 'selector'", ErrInvalidStep)
	}
	value, ok := step.Value.Text()
	if !ok {
		if items := step.Value.Strings(); len(items) > 0 {
			value, ok = items[0], true
		}
	}
	if !ok {
		return fmt.Errorf("%w: select_option requires a 'value'", ErrInvalidStep)
	}
	el, err := d.Resolve(ctx, locator.Parse(step.Selector), step.FrameName)
	if err != nil {
		return err
	}
	return d.SelectOption(ctx, el, value)
}

func (p *Primitives) handleUploadFile(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: upload_file requires a 'selector'", ErrInvalidStep)
	}
	raw := step.Value.Strings()
	if len(raw) == 0 {
		return fmt.Errorf("%w: upload_file requires one or more file paths", ErrInvalidStep)
	}
	paths := make([]string, 0, len(raw))
	for _, r := range raw {
		path, err := homedir.Expand(r)
		if err != nil {
			return fmt.Errorf("failed to expand upload path '%s': %w", r, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("upload file '%s' is not accessible: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("upload path '%s' is a directory", path)
		}
		paths = append(paths, path)
	}
	el, err := d.Resolve(ctx, locator.Parse(step.Selector), step.FrameName)
	if err != nil {
		return err
	}
	return d.SetInputFiles(ctx, el, paths)
}

// handleSetTitle replaces the content of a rich editable title by clicking
// it, clearing with select-all and typing with a per-key delay.
func (p *Primitives) handleSetTitle(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.Selector == "" {
		return fmt.Errorf("%w: set_title requires a 'selector'", ErrInvalidStep)
	}
	text, ok := step.Value.Text()
	if !ok {
		return fmt.Errorf("%w: set_title requires a text 'value'", ErrInvalidStep)
	}
	if err := p.click(ctx, d, step.Selector, step.FrameName); err != nil {
		return err
	}
	return p.replaceByKeyboard(ctx, d, text)
}

func (p *Primitives) handleFrameClick(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.FrameName == "" || step.Selector == "" {
		return fmt.Errorf("%w: frame_click requires 'frame_name' and 'selector'", ErrInvalidStep)
	}
	return p.click(ctx, d, step.Selector, step.FrameName)
}

func (p *Primitives) handleFrameType(ctx context.Context, d browser.Driver, step schemas.Step) error {
	if step.FrameName == "" || step.Selector == "" {
		return fmt.Errorf("%w: frame_type requires 'frame_name' and 'selector'", ErrInvalidStep)
	}
	text, ok := step.Value.Text()
	if !ok {
		return fmt.Errorf("%w: frame_type requires a text 'value'", ErrInvalidStep)
	}
	return p.fill(ctx, d, step.Selector, step.FrameName, text)
}

// Screenshots are taken by the executor.
func (p *Primitives) handleScreenshot(context.Context, browser.Driver, schemas.Step) error {
	return nil
}

// -- Helpers --

func (p *Primitives) keyFromValue(step schemas.Step) (schemas.KeyEventData, error) {
	combo, ok := step.Value.Text()
	if !ok || combo == "" {
		return schemas.KeyEventData{}, fmt.Errorf("%w: %s requires a key 'value'", ErrInvalidStep, step.Action)
	}
	key, err := browser.ParseKeyCombo(combo)
	if err != nil {
		return schemas.KeyEventData{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	return key, nil
}

func (p *Primitives) focus(ctx context.Context, d browser.Driver, selector, frame string) error {
	el, err := d.Resolve(ctx, locator.Parse(selector), frame)
	if err != nil {
		return err
	}
	return d.Focus(ctx, el)
}

// replaceByKeyboard clears the focused editable and types text.
func (p *Primitives) replaceByKeyboard(ctx context.Context, d browser.Driver, text string) error {
	if err := d.PressKey(ctx, p.selectAll); err != nil {
		return fmt.Errorf("select-all failed: %w", err)
	}
	if err := d.PressKey(ctx, schemas.KeyEventData{Key: "Backspace"}); err != nil {
		return fmt.Errorf("clearing content failed: %w", err)
	}
	return d.TypeText(ctx, text, p.cfg.TypingDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
