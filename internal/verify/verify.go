// Package verify decides whether an action had a visible effect by comparing
// content fingerprints taken before and after it.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/locator"
)

// ErrChangeNotObserved is returned when a change-requiring action left the
// page fingerprint untouched.
var ErrChangeNotObserved = errors.New("no observable change after action")

// refAttr matches the resolver's temporary tag so resolving alone never
// registers as a change.
var refAttr = regexp.MustCompile(`\s` + regexp.QuoteMeta(locator.RefAttribute) + `="[^"]*"`)

// Fingerprint is a hex sha256 digest of the observable page state.
type Fingerprint string

// Fingerprinter captures fingerprints according to the verify config.
type Fingerprinter struct {
	cfg config.VerifyConfig
}

// NewFingerprinter creates a Fingerprinter.
func NewFingerprinter(cfg config.Interface) *Fingerprinter {
	vc := cfg.Verify()
	if vc.Scope == "" {
		vc.Scope = "html"
	}
	return &Fingerprinter{cfg: vc}
}

// Capture reads the page state through d and digests it.
func (f *Fingerprinter) Capture(ctx context.Context, d browser.Driver) (Fingerprint, error) {
	st, err := d.PageState(ctx, f.cfg.Scope, f.cfg.IncludeFormState)
	if err != nil {
		return "", fmt.Errorf("failed to capture page state: %w", err)
	}
	return f.Digest(st), nil
}

// Digest hashes a captured page state. Each part is length-prefixed so
// content cannot shift between fields.
func (f *Fingerprinter) Digest(st browser.PageState) Fingerprint {
	h := sha256.New()
	writePart(h, "url", st.URL)
	writePart(h, "html", StripRefs(st.HTML))
	for _, fr := range st.Frames {
		writePart(h, "frame", StripRefs(fr))
	}
	if f.cfg.IncludeFormState {
		for _, fs := range st.Form {
			writePart(h, "form", fs)
		}
	}
	if f.cfg.IncludeViewport {
		writePart(h, "scroll", strconv.FormatFloat(st.ScrollX, 'f', -1, 64)+","+strconv.FormatFloat(st.ScrollY, 'f', -1, 64))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writePart(h hash.Hash, tag, v string) {
	fmt.Fprintf(h, "%s:%d:", tag, len(v))
	h.Write([]byte(v))
}

// StripRefs removes resolver ref attributes from markup.
func StripRefs(html string) string {
	return refAttr.ReplaceAllString(html, "")
}

var changeRequired = map[schemas.Action]bool{
	schemas.ActionGoto:         true,
	schemas.ActionSelectOption: true,
	schemas.ActionUploadFile:   true,
	schemas.ActionSetTitle:     true,
	schemas.ActionFrameClick:   true,
	schemas.ActionFrameType:    true,
	schemas.ActionScrollTo:     true,
	schemas.ActionScrollBy:     true,
}

// Verifier classifies actions and checks their effect.
type Verifier struct {
	logger  *zap.Logger
	enabled bool
}

// NewVerifier creates a Verifier. With verify.enabled off, nothing requires
// a change.
func NewVerifier(cfg config.Interface, logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger.Named("verify"), enabled: cfg.Verify().Enabled}
}

// Requires reports whether action must produce an observable change.
func (v *Verifier) Requires(action schemas.Action) bool {
	return v.enabled && changeRequired[action]
}

// Verify returns ErrChangeNotObserved when action requires a change and the
// fingerprints match.
func (v *Verifier) Verify(action schemas.Action, before, after Fingerprint) error {
	if !v.Requires(action) {
		return nil
	}
	if before == after {
		v.logger.Debug("Fingerprint unchanged.", zap.String("action", string(action)), zap.String("fingerprint", string(after)))
		return fmt.Errorf("%w (%s)", ErrChangeNotObserved, action)
	}
	return nil
}
