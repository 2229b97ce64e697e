package tasks

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/runtime"
	"github.com/runlayer/coordinator/internal/store"
)

// Activities bundles every Store mutation and runtime dispatch the task
// lifecycle engine needs as Temporal activities. A single struct (matching
// the teacher's internal/activities package shape) lets cmd/worker register
// all of them with one RegisterActivity(activities) call per method set.
type Activities struct {
	store     *store.Store
	inProcess *runtime.InProcessRunner
	remote    *runtime.RemoteDispatcher
}

func NewActivities(st *store.Store, inProcess *runtime.InProcessRunner, remote *runtime.RemoteDispatcher) *Activities {
	return &Activities{store: st, inProcess: inProcess, remote: remote}
}

// MarkTaskRunningInput is the MarkTaskRunning activity's input.
type MarkTaskRunningInput struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
}

// MarkTaskRunning transitions the task queued -> running, idempotently, and
// emits task.running (spec §4.F Dispatch: "if still queued, calls
// markRunning").
func (a *Activities) MarkTaskRunning(ctx context.Context, in MarkTaskRunningInput) error {
	now := time.Now().UnixMilli()
	return a.store.Mutate(ctx, in.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		t, err := mc.MarkTaskRunning(ctx, in.TaskID, now)
		if err != nil {
			return err
		}
		if t == nil {
			return nil // already running or terminal; no-op
		}
		_, err = mc.AppendTaskEvent(ctx, in.TaskID, models.TaskEventNameTask, models.EventTaskRunning, nil, now)
		return err
	})
}

// RunInProcessInput is the RunInProcess activity's input.
type RunInProcessInput struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	ActorID     string `json:"actorId"`
	ClientID    string `json:"clientId,omitempty"`
	Code        string `json:"code"`
}

// RunInProcessOutput is the RunInProcess activity's output. Exactly one of
// Result/Error is meaningful, mirroring the typed outcome the workflow uses
// to build TaskResult.
type RunInProcessOutput struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Denied bool   `json:"denied,omitempty"`
}

// RunInProcess executes task code in the Starlark sandbox to completion,
// heartbeating while the in-process runner retries APPROVAL_PENDING
// outcomes, per spec §4.F "In-process runtime" and §4.G "Suspension
// semantics". It never returns a Go error for a task-level failure — that
// is encoded in the output so the workflow can record the precise terminal
// status — only activity-infrastructure errors (which Temporal retries)
// surface as errors here.
func (a *Activities) RunInProcess(ctx context.Context, in RunInProcessInput) (RunInProcessOutput, error) {
	task := &models.Task{ID: in.TaskID, WorkspaceID: in.WorkspaceID, Code: in.Code}
	caller := runtime.Caller{ActorID: in.ActorID, ClientID: in.ClientID}

	heartbeat := func() { activity.RecordHeartbeat(ctx, "awaiting tool approval") }
	result, err := a.inProcess.Run(ctx, task, caller, heartbeat)
	if err != nil {
		denied := apierr.As(err, apierr.KindApprovalDenied) || apierr.As(err, apierr.KindPolicyDeny)
		return RunInProcessOutput{Error: err.Error(), Denied: denied}, nil
	}
	return RunInProcessOutput{Result: result}, nil
}

// DispatchRemoteRunInput is the DispatchRemoteRun activity's input.
type DispatchRemoteRunInput struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	Code        string `json:"code"`
	TimeoutMs   int64  `json:"timeoutMs"`
}

// DispatchRemoteRun POSTs the run request to the configured sandbox worker
// and records task.dispatched once the worker has acknowledged (spec §4.F
// Dispatch: "Remote sandbox runtime"). It does not await completion — the
// workflow awaits the complete_run Update separately.
func (a *Activities) DispatchRemoteRun(ctx context.Context, in DispatchRemoteRunInput) error {
	if err := a.remote.Dispatch(ctx, in.TaskID, in.Code, in.TimeoutMs); err != nil {
		return fmt.Errorf("dispatch remote run: %w", err)
	}
	now := time.Now().UnixMilli()
	return a.store.Mutate(ctx, in.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		_, err := mc.AppendTaskEvent(ctx, in.TaskID, models.TaskEventNameTask, models.EventTaskDispatched, nil, now)
		return err
	})
}

// RecordTerminalInput is the RecordTerminal activity's input.
type RecordTerminalInput struct {
	TaskID      string            `json:"taskId"`
	WorkspaceID string            `json:"workspaceId"`
	Status      models.TaskStatus `json:"status"`
	ExitCode    *int              `json:"exitCode,omitempty"`
	Result      any               `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// terminalEventByStatus maps each terminal TaskStatus to the event type
// emitted alongside it (spec §4.F "Events emitted per lifecycle").
var terminalEventByStatus = map[models.TaskStatus]string{
	models.TaskStatusCompleted: models.EventTaskCompleted,
	models.TaskStatusFailed:    models.EventTaskFailed,
	models.TaskStatusTimedOut:  models.EventTaskTimedOut,
	models.TaskStatusDenied:    models.EventTaskDenied,
}

// PurgeExpiredAuthorizationCodes deletes expired authorization_codes rows
// and returns the number removed, for CodePurgeWorkflow's periodic sweep.
// authorization_codes is a process-global table (not workspace-scoped), so
// the workspaceID passed to Mutate is a placeholder only used for the
// transaction's isolation scope.
func (a *Activities) PurgeExpiredAuthorizationCodes(ctx context.Context, _ struct{}) (int64, error) {
	var purged int64
	err := a.store.Mutate(ctx, "", func(ctx context.Context, mc *store.MutationContext) error {
		n, err := mc.PurgeExpiredAuthorizationCodes(ctx, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		purged = n
		return nil
	})
	return purged, err
}

// RecordTerminal performs the guarded terminal transition and emits the
// matching terminal event, idempotently (spec §4.F: "any terminal
// transition succeeds only from {queued, running} and is idempotent
// thereafter").
func (a *Activities) RecordTerminal(ctx context.Context, in RecordTerminalInput) error {
	now := time.Now().UnixMilli()
	eventType, ok := terminalEventByStatus[in.Status]
	if !ok {
		return fmt.Errorf("record terminal: unrecognized terminal status %q", in.Status)
	}
	return a.store.Mutate(ctx, in.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		t, err := mc.TerminalTransition(ctx, in.TaskID, in.Status, in.ExitCode, in.Result, in.Error, now)
		if err != nil {
			return err
		}
		if t == nil {
			return nil // already terminal; no-op
		}
		_, err = mc.AppendTaskEvent(ctx, in.TaskID, models.TaskEventNameTask, eventType, nil, now)
		return err
	})
}
