// internal/actions/strategies.go
package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/locator"
)

// Strategy names accepted in actions.click_strategies.
const (
	StrategyStandard    = "standard"
	StrategyForced      = "forced"
	StrategyBoundingBox = "bounding_box"
)

// Fill strategy names, used in logs.
const (
	FillDirect        = "direct"
	FillClickThenFill = "click_then_fill"
	FillKeyboard      = "keyboard"
)

type clickStrategy struct {
	name string
	run  func(p *Primitives, ctx context.Context, d browser.Driver, el browser.Element) error
}

type fillStrategy struct {
	name string
	run  func(p *Primitives, ctx context.Context, d browser.Driver, el browser.Element, value string) error
}

var clickStrategies = map[string]clickStrategy{
	StrategyStandard:    {name: StrategyStandard, run: (*Primitives).clickStandard},
	StrategyForced:      {name: StrategyForced, run: (*Primitives).clickForced},
	StrategyBoundingBox: {name: StrategyBoundingBox, run: (*Primitives).clickBoundingBox},
}

var defaultFillChain = []fillStrategy{
	{name: FillDirect, run: (*Primitives).fillDirect},
	{name: FillClickThenFill, run: (*Primitives).fillClickThenFill},
	{name: FillKeyboard, run: (*Primitives).fillKeyboard},
}

func buildClickChain(names []string) ([]clickStrategy, error) {
	if len(names) == 0 {
		names = []string{StrategyStandard, StrategyForced, StrategyBoundingBox}
	}
	chain := make([]clickStrategy, 0, len(names))
	for _, n := range names {
		s, ok := clickStrategies[n]
		if !ok {
			return nil, fmt.Errorf("unknown click strategy %q", n)
		}
		chain = append(chain, s)
	}
	return chain, nil
}

// click resolves selector and runs the click chain. The first strategy that
// succeeds wins; if all fail the last error is wrapped.
func (p *Primitives) click(ctx context.Context, d browser.Driver, selector, frame string) error {
	el, err := d.Resolve(ctx, locator.Parse(selector), frame)
	if err != nil {
		return fmt.Errorf("click failed for selector '%s': %w", selector, err)
	}

	var lastErr error
	for _, s := range p.clickChain {
		err := s.run(p, ctx, d, el)
		p.metrics.RecordClickStrategy(s.name, err == nil)
		if err == nil {
			if lastErr != nil {
				p.logger.Info("Click succeeded with fallback strategy.",
					zap.String("selector", selector), zap.String("strategy", s.name))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("Click strategy failed.",
			zap.String("selector", selector), zap.String("strategy", s.name), zap.Error(err))
		lastErr = err
	}
	return fmt.Errorf("click failed for selector '%s': %w", selector, lastErr)
}

func (p *Primitives) clickStandard(ctx context.Context, d browser.Driver, el browser.Element) error {
	if err := d.WaitVisible(ctx, el, p.cfg.VisibleTimeout); err != nil {
		return err
	}
	if err := d.ScrollIntoView(ctx, el); err != nil {
		return err
	}
	return d.Click(ctx, el)
}

func (p *Primitives) clickForced(ctx context.Context, d browser.Driver, el browser.Element) error {
	return d.ForceClick(ctx, el)
}

func (p *Primitives) clickBoundingBox(ctx context.Context, d browser.Driver, el browser.Element) error {
	// Best effort; an off-screen box still yields usable coordinates after scrolling.
	_ = d.ScrollIntoView(ctx, el)
	box, err := d.BoundingBox(ctx, el)
	if err != nil {
		return err
	}
	if box.Empty() {
		return fmt.Errorf("%w: '%s' has an empty bounding box", browser.ErrNotVisible, el.Selector)
	}
	x, y := box.Center()
	return d.MouseClick(ctx, x, y)
}

// fill resolves selector and runs the fill chain.
func (p *Primitives) fill(ctx context.Context, d browser.Driver, selector, frame, value string) error {
	el, err := d.Resolve(ctx, locator.Parse(selector), frame)
	if err != nil {
		return fmt.Errorf("fill failed for selector '%s': %w", selector, err)
	}

	var lastErr error
	for _, s := range p.fillChain {
		err := s.run(p, ctx, d, el, value)
		if err == nil {
			if lastErr != nil {
				p.logger.Info("Fill succeeded with fallback strategy.",
					zap.String("selector", selector), zap.String("strategy", s.name))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("Fill strategy failed.",
			zap.String("selector", selector), zap.String("strategy", s.name), zap.Error(err))
		lastErr = err
	}
	return fmt.Errorf("fill failed for selector '%s': %w", selector, lastErr)
}

func (p *Primitives) fillDirect(ctx context.Context, d browser.Driver, el browser.Element, value string) error {
	return d.SetValue(ctx, el, value)
}

func (p *Primitives) fillClickThenFill(ctx context.Context, d browser.Driver, el browser.Element, value string) error {
	if err := p.clickStandard(ctx, d, el); err != nil {
		return err
	}
	return d.SetValue(ctx, el, value)
}

// fillKeyboard only applies to contenteditable regions.
func (p *Primitives) fillKeyboard(ctx context.Context, d browser.Driver, el browser.Element, value string) error {
	rich, err := d.IsRichEditable(ctx, el)
	if err != nil {
		return err
	}
	if !rich {
		return fmt.Errorf("%w: '%s' is neither a text field nor contenteditable", browser.ErrNotEditable, el.Selector)
	}
	if err := d.Focus(ctx, el); err != nil {
		if cerr := d.Click(ctx, el); cerr != nil {
			return cerr
		}
	}
	return p.replaceByKeyboard(ctx, d, value)
}
