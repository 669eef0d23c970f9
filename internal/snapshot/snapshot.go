// Package snapshot extracts the read-only page views handed to the planner:
// a flat list of actionable elements and the nested accessibility tree.
package snapshot

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
)

// MaxTextLength bounds descriptor text, in characters.
const MaxTextLength = 200

// Extractor captures snapshots from a driver. It never mutates the page.
type Extractor struct {
	logger *zap.Logger
	cfg    config.SnapshotConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg config.Interface, logger *zap.Logger) *Extractor {
	sc := cfg.Snapshot()
	if sc.MaxTextLength <= 0 || sc.MaxTextLength > MaxTextLength {
		sc.MaxTextLength = MaxTextLength
	}
	return &Extractor{logger: logger.Named("snapshot"), cfg: sc}
}

// SemanticDOM describes every actionable element in document order.
func (e *Extractor) SemanticDOM(ctx context.Context, d browser.Driver) ([]schemas.ElementDescriptor, error) {
	var elems []schemas.ElementDescriptor
	if err := d.Evaluate(ctx, semanticDOMScript(e.cfg.MaxTextLength, e.cfg.MaxElements), &elems); err != nil {
		return nil, fmt.Errorf("failed to extract semantic DOM: %w", err)
	}
	// JS slices by UTF-16 unit; enforce the bound in characters.
	for i := range elems {
		elems[i].Text = truncateRunes(elems[i].Text, e.cfg.MaxTextLength)
	}
	if elems == nil {
		elems = []schemas.ElementDescriptor{}
	}
	return elems, nil
}

// AccessibilityTree returns the nested accessibility snapshot, or nil when
// the platform cannot produce one. Failures are logged, never returned.
func (e *Extractor) AccessibilityTree(ctx context.Context, d browser.Driver) *schemas.AXNode {
	nodes, err := d.AccessibilityNodes(ctx)
	if err != nil {
		e.logger.Warn("Accessibility tree unavailable.", zap.Error(err))
		return nil
	}
	return BuildAXTree(nodes)
}

// Capture takes both views. A semantic DOM failure leaves that field nil.
func (e *Extractor) Capture(ctx context.Context, d browser.Driver) schemas.Snapshot {
	var snap schemas.Snapshot
	elems, err := e.SemanticDOM(ctx, d)
	if err != nil {
		e.logger.Warn("Semantic DOM unavailable.", zap.Error(err))
	} else {
		snap.SemanticDOM = elems
	}
	snap.AccessibilityTree = e.AccessibilityTree(ctx, d)
	e.logger.Debug("Snapshot captured.",
		zap.Int("elements", len(snap.SemanticDOM)),
		zap.Int("ax_nodes", snap.AccessibilityTree.Count()))
	return snap
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
