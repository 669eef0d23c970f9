// internal/browser/session/input.go
package session

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

const inputTimeout = 10 * time.Second

// namedKeys maps DOM key names to the chromedp/kb sequences KeyEvent understands.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Escape":     kb.Escape,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Insert":     kb.Insert,
	"Space":      " ",
	"F1":         kb.F1,
	"F2":         kb.F2,
	"F3":         kb.F3,
	"F4":         kb.F4,
	"F5":         kb.F5,
	"F6":         kb.F6,
	"F7":         kb.F7,
	"F8":         kb.F8,
	"F9":         kb.F9,
	"F10":        kb.F10,
	"F11":        kb.F11,
	"F12":        kb.F12,
	// Bare modifiers, e.g. "Shift" or "Control+Alt".
	"Shift":   kb.Shift,
	"Control": kb.Control,
	"Alt":     kb.Alt,
	"Meta":    kb.Meta,
}

// MouseMove moves the pointer to viewport coordinates.
func (s *Session) MouseMove(ctx context.Context, x, y float64) error {
	if err := s.dispatchMouse(ctx, "mouse move", input.DispatchMouseEvent(input.MouseMoved, x, y)); err != nil {
		return err
	}
	s.setMouse(x, y)
	return nil
}

// MouseClick moves to (x, y) and presses and releases the left button.
func (s *Session) MouseClick(ctx context.Context, x, y float64) error {
	s.logger.Debug("Dispatching raw mouse click.", zap.Float64("x", x), zap.Float64("y", y))
	err := s.dispatchMouse(ctx, "mouse click",
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1),
	)
	if err != nil {
		return err
	}
	s.setMouse(x, y)
	return nil
}

// MouseWheel scrolls by (dx, dy) at the current pointer position.
func (s *Session) MouseWheel(ctx context.Context, dx, dy float64) error {
	x, y := s.mouse()
	return s.dispatchMouse(ctx, "mouse wheel",
		input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
}

func (s *Session) dispatchMouse(ctx context.Context, what string, events ...*input.DispatchMouseEventParams) error {
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()

	actions := make([]chromedp.Action, len(events))
	for i, e := range events {
		actions[i] = e
	}
	if err := s.RunActions(opCtx, actions...); err != nil {
		return s.opError(ctx, opCtx, inputTimeout, what, err)
	}
	return nil
}

func (s *Session) mouse() (float64, float64) {
	s.mouseMu.Lock()
	defer s.mouseMu.Unlock()
	return s.mouseX, s.mouseY
}

func (s *Session) setMouse(x, y float64) {
	s.mouseMu.Lock()
	s.mouseX, s.mouseY = x, y
	s.mouseMu.Unlock()
}

// TypeText sends text to the focused element one character at a time,
// pausing delay between characters.
func (s *Session) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	tasks := make(chromedp.Tasks, 0, len(runes)*2)
	for i, r := range runes {
		tasks = append(tasks, chromedp.KeyEvent(string(r)))
		if delay > 0 && i < len(runes)-1 {
			tasks = append(tasks, chromedp.Sleep(delay))
		}
	}

	timeout := inputTimeout + time.Duration(len(runes))*delay
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.RunActions(opCtx, tasks); err != nil {
		return s.opError(ctx, opCtx, timeout, "typing text", err)
	}
	return nil
}

// PressKey presses a key combination once.
func (s *Session) PressKey(ctx context.Context, key schemas.KeyEventData) error {
	action, err := keyAction(key)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, inputTimeout)
	defer cancel()
	if err := s.RunActions(opCtx, action); err != nil {
		return s.opError(ctx, opCtx, inputTimeout, fmt.Sprintf("key press '%s'", key.Key), err)
	}
	return nil
}

func cdpModifiers(m schemas.KeyModifier) input.Modifier {
	var mods input.Modifier
	if m&schemas.ModAlt != 0 {
		mods |= input.ModifierAlt
	}
	if m&schemas.ModCtrl != 0 {
		mods |= input.ModifierCtrl
	}
	if m&schemas.ModMeta != 0 {
		mods |= input.ModifierMeta
	}
	if m&schemas.ModShift != 0 {
		mods |= input.ModifierShift
	}
	return mods
}

// keyAction builds the CDP events for one key press. Select-all is sent with
// the editing command attached, since Chrome does not map Ctrl+A to it for
// synthetic events.
func keyAction(key schemas.KeyEventData) (chromedp.Action, error) {
	if key.Key == "" {
		return nil, fmt.Errorf("empty key")
	}
	mods := cdpModifiers(key.Modifiers)

	if isSelectAll(key) {
		down := input.DispatchKeyEvent(input.KeyRawDown).
			WithKey("a").WithCode("KeyA").
			WithWindowsVirtualKeyCode(65).WithNativeVirtualKeyCode(65).
			WithModifiers(mods).
			WithCommands([]string{"selectAll"})
		up := input.DispatchKeyEvent(input.KeyUp).
			WithKey("a").WithCode("KeyA").
			WithWindowsVirtualKeyCode(65).WithNativeVirtualKeyCode(65).
			WithModifiers(mods)
		return chromedp.Tasks{down, up}, nil
	}

	seq, ok := namedKeys[key.Key]
	if !ok {
		runes := []rune(key.Key)
		if len(runes) != 1 {
			return nil, fmt.Errorf("unsupported key %q", key.Key)
		}
		seq = key.Key
		// With modifiers the shortcut names the physical key, not the shifted glyph.
		if mods != 0 && unicode.IsUpper(runes[0]) {
			seq = strings.ToLower(seq)
		}
	}
	if mods == 0 {
		return chromedp.KeyEvent(seq), nil
	}
	return chromedp.KeyEvent(seq, chromedp.KeyModifiers(mods)), nil
}

func isSelectAll(key schemas.KeyEventData) bool {
	if !strings.EqualFold(key.Key, "a") {
		return false
	}
	return key.Modifiers == schemas.ModCtrl || key.Modifiers == schemas.ModMeta
}
