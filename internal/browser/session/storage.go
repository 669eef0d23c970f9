// internal/browser/session/storage.go
package session

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadStorageState reads a saved storage state file. A leading ~ is expanded.
func LoadStorageState(path string) (*schemas.StorageState, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand storage state path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}
	var state schemas.StorageState
	if err := jsonAPI.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse storage state '%s': %w", expanded, err)
	}
	return &state, nil
}

// ApplyStorageState installs cookies immediately and registers a script that
// seeds localStorage whenever a document of a saved origin loads.
func ApplyStorageState(ctx context.Context, exec ActionExecutor, state *schemas.StorageState, logger *zap.Logger) error {
	if state == nil {
		return nil
	}
	var tasks chromedp.Tasks
	if cookies := cookieParams(state.Cookies); len(cookies) > 0 {
		tasks = append(tasks, network.SetCookies(cookies))
	}
	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		script := localStorageScript(origin)
		tasks = append(tasks, chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(c)
			return err
		}))
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := exec.RunActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to apply storage state: %w", err)
	}
	logger.Info("Storage state applied.",
		zap.Int("cookies", len(state.Cookies)),
		zap.Int("origins", len(state.Origins)))
	return nil
}

func cookieParams(cookies []schemas.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = network.CookieSameSiteStrict
		case "lax":
			p.SameSite = network.CookieSameSiteLax
		case "none":
			p.SameSite = network.CookieSameSiteNone
		}
		// Negative expiry marks a session cookie.
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			p.Expires = &t
		}
		params = append(params, p)
	}
	return params
}

func localStorageScript(origin schemas.OriginStorage) string {
	entries := make(map[string]string, len(origin.LocalStorage))
	for _, e := range origin.LocalStorage {
		entries[e.Name] = e.Value
	}
	return fmt.Sprintf(`(function(origin, entries) {
  if (location.origin !== origin) return;
  try {
    Object.keys(entries).forEach(function(k) {
      if (window.localStorage.getItem(k) === null) window.localStorage.setItem(k, entries[k]);
    });
  } catch (e) {}
})(%s, %s);`, jsonEncode(strings.TrimRight(origin.Origin, "/")), jsonEncode(entries))
}
