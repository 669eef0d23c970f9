package schemas

import (
	"time"
)

// ErrorCode is a string type used for structured failure reporting from the
// executor and the repair loop.
type ErrorCode string

const (
	// -- Step-level failures (recoverable through one repair) --
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"
	ErrCodeActionExecution   ErrorCode = "ACTION_EXECUTION_ERROR"
	ErrCodeChangeNotObserved ErrorCode = "CHANGE_NOT_OBSERVED"

	// -- Run-level failures (terminal) --
	ErrCodeRepairParse     ErrorCode = "REPAIR_PARSE_ERROR"
	ErrCodeRepairExecution ErrorCode = "REPAIR_EXECUTION_FAILURE"
	ErrCodeRepairRequest   ErrorCode = "REPAIR_REQUEST_ERROR"
)

// Attempt distinguishes the first execution of a step from its repair.
type Attempt string

const (
	AttemptOriginal Attempt = "original"
	AttemptRepair   Attempt = "repair"
)

// ArtifactPaths lists the files persisted for a successful attempt.
type ArtifactPaths struct {
	Screenshot        string `json:"screenshot,omitempty"`
	SemanticDOM       string `json:"semantic_dom,omitempty"`
	AccessibilityTree string `json:"accessibility_tree,omitempty"`
}

// ExecutionOutcome is the result of attempting one step. A fresh outcome is
// produced for every attempt.
type ExecutionOutcome struct {
	Index             int                    `json:"index"`
	Step              Step                   `json:"step"`
	Attempt           Attempt                `json:"attempt"`
	Success           bool                   `json:"success"`
	Error             string                 `json:"error,omitempty"`
	ErrorCode         ErrorCode              `json:"error_code,omitempty"`
	ErrorDetails      map[string]interface{} `json:"error_details,omitempty"`
	Changed           bool                   `json:"changed"`
	SemanticDOM       []ElementDescriptor    `json:"semantic_dom,omitempty"`
	AccessibilityTree *AXNode                `json:"accessibility_tree,omitempty"`
	Artifacts         *ArtifactPaths         `json:"artifacts,omitempty"`
	Duration          time.Duration          `json:"duration"`
}

// Snapshot returns the page snapshot captured with the outcome.
func (o *ExecutionOutcome) Snapshot() Snapshot {
	return Snapshot{SemanticDOM: o.SemanticDOM, AccessibilityTree: o.AccessibilityTree}
}

// RepairRequest is the failure report handed to the planner.
type RepairRequest struct {
	Task              string              `json:"task_description"`
	PreviousSteps     []Step              `json:"previous_steps"`
	FailedStep        Step                `json:"failed_step"`
	Error             string              `json:"error_message"`
	SemanticDOM       []ElementDescriptor `json:"semantic_dom"`
	AccessibilityTree *AXNode             `json:"accessibility_tree"`
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// RunReport summarises a run for the operator. Outcomes are stored without
// their snapshots; those live in the per-step artifacts.
type RunReport struct {
	RunID       string             `json:"run_id"`
	Task        string             `json:"task"`
	OutputDir   string             `json:"output_dir"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Status      RunStatus          `json:"status"`
	FailedIndex *int               `json:"failed_index,omitempty"`
	AbortCode   ErrorCode          `json:"abort_code,omitempty"`
	AbortReason string             `json:"abort_reason,omitempty"`
	History     []Step             `json:"history"`
	Outcomes    []ExecutionOutcome `json:"outcomes"`
}
