// Package browser defines the port the step machinery drives a page through.
// The chromedp adapter lives in the session subpackage; tests use fakes.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/accessibility"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/locator"
)

var (
	// ErrElementNotFound is returned when no alternative of an expression matched.
	ErrElementNotFound = errors.New("element not found")
	// ErrFrameNotFound is returned when a named iframe is missing or unreachable.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrNotVisible is returned when an element has no rendered box.
	ErrNotVisible = errors.New("element not visible")
	// ErrNotEditable is returned when a value cannot be set on an element.
	ErrNotEditable = errors.New("element not editable")
	// ErrOptionNotFound is returned when a select has no matching option.
	ErrOptionNotFound = errors.New("option not found")
)

// Element is a resolved handle: a concrete selector, scoped to a frame.
type Element struct {
	Selector string
	// Frame names the iframe the selector applies in. Empty is the top document.
	Frame string
}

// PageState is the raw material for a content fingerprint.
type PageState struct {
	URL     string   `json:"url"`
	HTML    string   `json:"html"`
	Frames  []string `json:"frames"`
	Form    []string `json:"form"`
	ScrollX float64  `json:"scrollX"`
	ScrollY float64  `json:"scrollY"`
}

// Driver is everything the action primitives, the verifier and the snapshot
// extractor need from a live page. A Driver is owned by one run and is not
// safe for concurrent use.
type Driver interface {
	// Navigation
	Navigate(ctx context.Context, url string) error
	WaitForLoad(ctx context.Context) error
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error

	// Resolution
	Resolve(ctx context.Context, expr locator.Expression, frame string) (Element, error)

	// Element interaction
	WaitVisible(ctx context.Context, el Element, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	ForceClick(ctx context.Context, el Element) error
	BoundingBox(ctx context.Context, el Element) (schemas.BoundingBox, error)
	Focus(ctx context.Context, el Element) error
	SetValue(ctx context.Context, el Element, value string) error
	IsRichEditable(ctx context.Context, el Element) (bool, error)
	SelectOption(ctx context.Context, el Element, value string) error
	SetInputFiles(ctx context.Context, el Element, paths []string) error

	// Raw input
	MouseMove(ctx context.Context, x, y float64) error
	MouseClick(ctx context.Context, x, y float64) error
	MouseWheel(ctx context.Context, dx, dy float64) error
	TypeText(ctx context.Context, text string, delay time.Duration) error
	PressKey(ctx context.Context, key schemas.KeyEventData) error
	ScrollTo(ctx context.Context, x, y float64) error

	// Observation
	Evaluate(ctx context.Context, script string, res interface{}) error
	PageState(ctx context.Context, scope string, includeForm bool) (PageState, error)
	Screenshot(ctx context.Context) ([]byte, error)
	AccessibilityNodes(ctx context.Context) ([]*accessibility.Node, error)
}
