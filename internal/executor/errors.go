package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/actions"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/verify"
)

// Step-level error categories. Each is recoverable through one repair.
var (
	ErrUnknownAction     = actions.ErrUnknownAction
	ErrChangeNotObserved = verify.ErrChangeNotObserved
	// ErrActionPanic marks a primitive that panicked instead of returning.
	ErrActionPanic = errors.New("action panicked")
)

// Classify maps a step error to its reported code. Anything that is not an
// unknown action or a missing change is an execution error.
func Classify(err error) schemas.ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownAction):
		return schemas.ErrCodeUnknownAction
	case errors.Is(err, ErrChangeNotObserved):
		return schemas.ErrCodeChangeNotObserved
	default:
		return schemas.ErrCodeActionExecution
	}
}

// Details builds the structured error details attached to a failed outcome.
func Details(err error, step schemas.Step) map[string]interface{} {
	details := map[string]interface{}{
		"message": err.Error(),
		"action":  string(step.Action),
	}
	if step.Selector != "" {
		details["selector"] = step.Selector
	}
	if step.FrameName != "" {
		details["frame_name"] = step.FrameName
	}
	if reason := reasonFor(err); reason != "" {
		details["reason"] = reason
	}
	return details
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAction):
		return "unknown_action"
	case errors.Is(err, ErrChangeNotObserved):
		return "change_not_observed"
	case errors.Is(err, actions.ErrInvalidStep):
		return "invalid_step"
	case errors.Is(err, browser.ErrFrameNotFound):
		return "frame_not_found"
	case errors.Is(err, browser.ErrElementNotFound):
		return "element_not_found"
	case errors.Is(err, browser.ErrNotVisible):
		return "not_visible"
	case errors.Is(err, browser.ErrNotEditable):
		return "not_editable"
	case errors.Is(err, browser.ErrOptionNotFound):
		return "option_not_found"
	case errors.Is(err, ErrActionPanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(err.Error(), "timed out"):
		return "timeout"
	case strings.Contains(err.Error(), "net::ERR"):
		return "navigation"
	}
	return ""
}
