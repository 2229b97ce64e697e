// Package tasks implements the task lifecycle engine (spec §4.F): one
// Temporal workflow execution per submitted task, dispatching to either the
// in-process Starlark runtime or a remote sandbox worker, and a long-lived
// authorization-code purge workflow.
//
// Maps to: internal/workflow/harness.go's workflow/activity split — a
// workflow owns orchestration and Update/Query handlers, activities own all
// I/O (Store mutations, runtime dispatch).
package tasks

import "github.com/runlayer/coordinator/internal/models"

// Handler name constants for TaskWorkflow.
const (
	// QueryGetStatus mirrors the teacher's QueryGetSessions: lets
	// operational tooling inspect a running task without waiting on it.
	QueryGetStatus = "get_status"

	// UpdateCompleteRun is sent by the internal callback HTTP handler once
	// a remote sandbox worker reports a terminal outcome (spec §4.F
	// "Callbacks").
	UpdateCompleteRun = "complete_run"
)

// Runtime kind sentinel. Any other RuntimeID is treated as an opaque
// identifier for the single configured remote sandbox worker (spec.md's
// runtime registry is out of scope; this deployment wires exactly one
// remote worker endpoint, named in DESIGN.md).
const RuntimeInProcess = "inprocess"

// TaskWorkflowInput starts a TaskWorkflow run. It carries everything the
// workflow needs without re-reading the task row, since workflow code must
// be deterministic and may not call the Store directly.
type TaskWorkflowInput struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	ActorID     string `json:"actorId"`
	ClientID    string `json:"clientId,omitempty"`
	Code        string `json:"code"`
	RuntimeID   string `json:"runtimeId"`
	TimeoutMs   int64  `json:"timeoutMs"`
}

// TaskResult is the terminal outcome of a TaskWorkflow run.
type TaskResult struct {
	Status   models.TaskStatus `json:"status"`
	ExitCode *int              `json:"exitCode,omitempty"`
	Result   any               `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// StatusSnapshot is returned by the get_status query.
type StatusSnapshot struct {
	Phase string `json:"phase"` // "dispatching" | "running" | "awaiting_remote" | "done"
}

// CompleteRunRequest is the complete_run Update payload (spec §4.F
// "Callbacks": completeRun(runId, status, exitCode?, error?, durationMs?)).
type CompleteRunRequest struct {
	RunID      string            `json:"runId"`
	Status     models.TaskStatus `json:"status"`
	ExitCode   *int              `json:"exitCode,omitempty"`
	Result     any               `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
}

// CompleteRunResponse echoes the idempotency outcome described in spec §4.F.
type CompleteRunResponse struct {
	AlreadyFinal bool `json:"alreadyFinal"`
}
