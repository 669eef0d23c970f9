// Package artifacts persists per-step evidence and the run report under a
// timestamped run directory. Files are created exclusively and never
// overwritten.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

const (
	ScreenshotsDir = "screenshots"
	DOMStatesDir   = "dom_states"
	ReportFile     = "run_report.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizeLabel reduces label to [A-Za-z0-9_-]. An empty result becomes "step".
func SanitizeLabel(label string) string {
	s := strings.Trim(unsafeLabel.ReplaceAllString(label, "_"), "_")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "step"
	}
	return s
}

// Store writes into one run directory.
type Store struct {
	dir     string
	cfg     config.SnapshotConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRunDir creates <root>/<timestamp> with its subdirectories. A directory
// already taken in the same second gets a numeric suffix.
func NewRunDir(root, layout string, now time.Time) (string, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("failed to expand artifacts root '%s': %w", root, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts root: %w", err)
	}

	base := filepath.Join(expanded, now.Format(layout))
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create run directory: %w", err)
		}
		if i > 100 {
			return "", fmt.Errorf("failed to allocate a run directory under '%s'", expanded)
		}
		dir = base + "_" + strconv.Itoa(i)
	}

	for _, sub := range []string{ScreenshotsDir, DOMStatesDir} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return dir, nil
}

// NewStore creates a Store over an existing run directory. metrics may be nil.
func NewStore(dir string, cfg config.Interface, logger *zap.Logger, metrics *observability.Metrics) *Store {
	return &Store{
		dir:     dir,
		cfg:     cfg.Snapshot(),
		logger:  logger.Named("artifacts"),
		metrics: metrics,
	}
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// SaveStep persists the screenshot and, if enabled, the snapshot JSON for
// the step at index. The returned paths list what was written, even when a
// later file fails.
func (s *Store) SaveStep(index int, label string, png []byte, snap schemas.Snapshot) (*schemas.ArtifactPaths, error) {
	prefix := fmt.Sprintf("%d_%s", index+1, SanitizeLabel(label))
	paths := &schemas.ArtifactPaths{}
	var errs []error

	if png != nil {
		p := filepath.Join(s.dir, ScreenshotsDir, prefix+".png")
		if err := s.create(p, png); err != nil {
			errs = append(errs, err)
		} else {
			paths.Screenshot = p
		}
	}

	if s.cfg.CaptureDOM {
		p := filepath.Join(s.dir, DOMStatesDir, prefix+"_dom.json")
		dom := snap.SemanticDOM
		if dom == nil {
			dom = []schemas.ElementDescriptor{}
		}
		if err := s.writeJSON(p, dom); err != nil {
			errs = append(errs, err)
		} else {
			paths.SemanticDOM = p
		}
	}

	if s.cfg.CaptureAccessibility {
		p := filepath.Join(s.dir, DOMStatesDir, prefix+"_accessibility.json")
		if err := s.writeJSON(p, snap.AccessibilityTree); err != nil {
			errs = append(errs, err)
		} else {
			paths.AccessibilityTree = p
		}
	}

	s.logger.Debug("Step artifacts saved.", zap.Int("index", index), zap.String("label", prefix))
	return paths, errors.Join(errs...)
}

// WriteReport persists the run report as run_report.json.
func (s *Store) WriteReport(report *schemas.RunReport) (string, error) {
	p := filepath.Join(s.dir, ReportFile)
	if err := s.writeJSON(p, report); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return s.create(path, data)
}

// create writes data to a new file, failing if path exists.
func (s *Store) create(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	n, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("failed to write artifact '%s': %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close artifact '%s': %w", path, cerr)
	}
	s.metrics.AddArtifactBytes(n)
	return nil
}
