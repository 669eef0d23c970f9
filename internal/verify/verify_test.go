package verify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/locator"
	"github.com/xkilldash9x/mender/internal/mocks"
)

func TestVerifier_Requires(t *testing.T) {
	v := NewVerifier(config.NewDefaultConfig(), zaptest.NewLogger(t))

	required := []schemas.Action{
		schemas.ActionGoto, schemas.ActionSelectOption, schemas.ActionUploadFile,
		schemas.ActionSetTitle, schemas.ActionFrameClick, schemas.ActionFrameType,
		schemas.ActionScrollTo, schemas.ActionScrollBy,
	}
	for _, a := range required {
		assert.True(t, v.Requires(a), a)
	}

	exempt := []schemas.Action{
		schemas.ActionClick, schemas.ActionType, schemas.ActionPress, schemas.ActionHover,
		schemas.ActionWaitFor, schemas.ActionWait, schemas.ActionWaitForNavigation,
		schemas.ActionKeyboardType, schemas.ActionKeyboardPress, schemas.ActionScreenshot,
		schemas.Action("teleport"),
	}
	for _, a := range exempt {
		assert.False(t, v.Requires(a), a)
	}
}

func TestVerifier_Disabled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VerifyCfg.Enabled = false
	v := NewVerifier(cfg, zaptest.NewLogger(t))
	assert.False(t, v.Requires(schemas.ActionGoto))
	assert.NoError(t, v.Verify(schemas.ActionGoto, "same", "same"))
}

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier(config.NewDefaultConfig(), zaptest.NewLogger(t))

	err := v.Verify(schemas.ActionScrollBy, "abc", "abc")
	require.ErrorIs(t, err, ErrChangeNotObserved)
	assert.Contains(t, err.Error(), "scroll_by")

	assert.NoError(t, v.Verify(schemas.ActionScrollBy, "abc", "def"))
	assert.NoError(t, v.Verify(schemas.ActionClick, "abc", "abc"))
}

// Verify fails exactly when the action requires a change and the digests match.
func TestVerifier_VerifyProperty(t *testing.T) {
	v := NewVerifier(config.NewDefaultConfig(), zaptest.NewLogger(t))
	rapid.Check(t, func(t *rapid.T) {
		action := rapid.SampledFrom(schemas.AllowedActions).Draw(t, "action")
		before := Fingerprint(rapid.StringMatching(`[0-9a-f]{4}`).Draw(t, "before"))
		after := before
		if rapid.Bool().Draw(t, "changed") {
			after = Fingerprint(rapid.StringMatching(`[0-9a-f]{4}`).Draw(t, "after"))
		}
		err := v.Verify(action, before, after)
		want := v.Requires(action) && before == after
		if want != errors.Is(err, ErrChangeNotObserved) {
			t.Fatalf("action=%s before=%s after=%s err=%v", action, before, after, err)
		}
	})
}

func TestFingerprinter_Digest(t *testing.T) {
	f := NewFingerprinter(config.NewDefaultConfig())
	base := browser.PageState{
		URL:  "https://app.test/",
		HTML: `<html><body><input id="q"></body></html>`,
		Form: []string{"0|INPUT|text||0|-1|0"},
	}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, f.Digest(base), f.Digest(base))
		assert.Len(t, string(f.Digest(base)), 64)
	})

	t.Run("url change", func(t *testing.T) {
		other := base
		other.URL = "https://app.test/#done"
		assert.NotEqual(t, f.Digest(base), f.Digest(other))
	})

	t.Run("form value change", func(t *testing.T) {
		other := base
		other.Form = []string{"0|INPUT|text|hello|0|-1|0"}
		assert.NotEqual(t, f.Digest(base), f.Digest(other))
	})

	t.Run("iframe content change", func(t *testing.T) {
		a, b := base, base
		a.Frames = []string{"<html><body></body></html>"}
		b.Frames = []string{"<html><body>typed</body></html>"}
		assert.NotEqual(t, f.Digest(a), f.Digest(b))
	})

	t.Run("scroll offset change", func(t *testing.T) {
		other := base
		other.ScrollY = 400
		assert.NotEqual(t, f.Digest(base), f.Digest(other))

		cfg := config.NewDefaultConfig()
		cfg.VerifyCfg.IncludeViewport = false
		noScroll := NewFingerprinter(cfg)
		assert.Equal(t, noScroll.Digest(base), noScroll.Digest(other))
	})

	t.Run("form state ignored when disabled", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.VerifyCfg.IncludeFormState = false
		g := NewFingerprinter(cfg)
		other := base
		other.Form = []string{"changed"}
		assert.Equal(t, g.Digest(base), g.Digest(other))
	})

	t.Run("fields cannot bleed into each other", func(t *testing.T) {
		a := browser.PageState{URL: "ab", HTML: "c"}
		b := browser.PageState{URL: "a", HTML: "bc"}
		assert.NotEqual(t, f.Digest(a), f.Digest(b))
	})
}

// Tagging elements with resolver refs never changes the digest.
func TestFingerprinter_RefInvariance(t *testing.T) {
	f := NewFingerprinter(config.NewDefaultConfig())
	rapid.Check(t, func(t *rapid.T) {
		tags := rapid.SliceOfN(rapid.SampledFrom([]string{"div", "button", "span", "input"}), 1, 8).Draw(t, "tags")
		refs := rapid.SliceOfN(rapid.Bool(), len(tags), len(tags)).Draw(t, "refs")

		plain, tagged := "", ""
		for i, tag := range tags {
			plain += fmt.Sprintf(`<%s class="c%d"></%s>`, tag, i, tag)
			if refs[i] {
				tagged += fmt.Sprintf(`<%s class="c%d" %s="%d"></%s>`, tag, i, locator.RefAttribute, i+1, tag)
			} else {
				tagged += fmt.Sprintf(`<%s class="c%d"></%s>`, tag, i, tag)
			}
		}
		a := browser.PageState{URL: "u", HTML: plain}
		b := browser.PageState{URL: "u", HTML: tagged}
		if f.Digest(a) != f.Digest(b) {
			t.Fatalf("ref attributes changed the digest:\n%s\n%s", plain, tagged)
		}
	})
}

func TestFingerprinter_Capture(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.VerifyCfg.Scope = "main"
	f := NewFingerprinter(cfg)

	d := new(mocks.MockDriver)
	st := browser.PageState{URL: "https://app.test/", HTML: "<main></main>"}
	d.On("PageState", mock.Anything, "main", true).Return(st, nil).Once()
	d.On("PageState", mock.Anything, "main", true).Return(browser.PageState{}, errors.New("detached")).Once()

	fp, err := f.Capture(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, f.Digest(st), fp)

	_, err = f.Capture(context.Background(), d)
	assert.ErrorContains(t, err, "failed to capture page state")
	d.AssertExpectations(t)
}

func TestStripRefs(t *testing.T) {
	in := `<div data-mender-ref="12" id="a"><span data-mender-ref="3"></span></div>`
	assert.Equal(t, `<div id="a"><span></span></div>`, StripRefs(in))
}
