package planner

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/mender/api/schemas"
)

// knownApps maps product names in a task to the URL the plan opens first.
var knownApps = []struct{ name, url string }{
	{"Notion", "https://www.notion.so"},
	{"Linear", "https://linear.app"},
	{"Asana", "https://app.asana.com"},
	{"Trello", "https://trello.com"},
	{"Jira", "https://jira.com"},
}

func actionList() string {
	names := make([]string, len(schemas.AllowedActions))
	for i, a := range schemas.AllowedActions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func planSystemPrompt() string {
	var apps strings.Builder
	for _, a := range knownApps {
		fmt.Fprintf(&apps, "- A task that mentions %s opens %s\n", a.name, a.url)
	}

	return fmt.Sprintf(`You write browser automation plans for web applications you may never have seen before.
Respond with a JSON array of steps and nothing else: no prose, no markdown.

Each step is an object with the keys "action", "selector" (when the action targets an element), "value" (when the action needs one) and "description".

Allowed actions: %s.

The first step always opens the application with a goto step, for example:
{"action": "goto", "value": "https://www.notion.so", "description": "open_application"}
%sWhen no product is named, infer the most likely site from the task and still begin with goto.

Rules:
1. Prefer stable selectors, in this order: [data-testid="..."], aria-label, role, name, type, visible text.
2. When several selectors could match, join them into one OR selector, e.g. "button:has-text('New page'), div[aria-label='New page']".
3. Follow every step that changes the UI with a screenshot step.
4. To create or submit something through a form or modal, focus the name or title field, set its value, then click the button that completes the action (Create, Save, New page) and take a screenshot of the result.
5. The plan must run with no human intervention. Use only elements that the application typically has.
6. Frame actions (frame_click, frame_type) carry the frame's name in "frame_name".
7. scroll_by takes {"x": ..., "y": ...}; wait takes seconds; upload_file takes a path or a list of paths.`, actionList(), apps.String())
}

func planUserPrompt(task string) string {
	return "Generate the JSON array of steps for this task:\n" + task
}

func repairSystemPrompt() string {
	return fmt.Sprintf(`You repair one failed step of a browser automation plan.
Respond with a single JSON object for the corrected step and nothing else: no prose, no markdown, no array, no earlier steps.

Work from the failed step, the error message, the semantic DOM and the accessibility tree:
- Diagnose why the step failed and replace only that step.
- Choose the most stable selector the page offers: data-testid, role, aria-label, name, type, visible text, or an OR selector combining several.
- When the target element does not exist, return the next best step that still moves the task forward.
- Allowed actions: %s.

Output shape:
{"action": "...", "selector": "...", "value": "...", "description": "..."}
Omit "selector" and "value" when the action does not need them.`, actionList())
}

func repairUserPrompt(req schemas.RepairRequest) (string, error) {
	previous, err := json.MarshalIndent(req.PreviousSteps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode previous steps: %w", err)
	}
	failed, err := json.MarshalIndent(req.FailedStep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode failed step: %w", err)
	}
	dom, err := json.Marshal(req.SemanticDOM)
	if err != nil {
		return "", fmt.Errorf("failed to encode semantic DOM: %w", err)
	}
	tree, err := json.Marshal(req.AccessibilityTree)
	if err != nil {
		return "", fmt.Errorf("failed to encode accessibility tree: %w", err)
	}

	return fmt.Sprintf(`Task description:
%s

Previous successful steps:
%s

Failed step:
%s

Error message:
%s

Semantic DOM:
%s

Accessibility tree:
%s

Return the corrected step as one JSON object.`, req.Task, previous, failed, req.Error, dom, tree), nil
}
