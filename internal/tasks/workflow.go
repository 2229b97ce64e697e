package tasks

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/runlayer/coordinator/internal/models"
)

// activityOptions is shared by every activity this workflow executes;
// mirrors resolveHarnessConfig's ActivityOptions/RetryPolicy shape.
func activityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
}

// TaskWorkflow runs the full lifecycle of one submitted task (spec §4.F):
// markRunning, dispatch to the configured runtime, enforce timeoutMs,
// record the terminal transition. WorkflowID is task_<uuid>, so
// client.ExecuteWorkflow followed by run.Get implements the synchronous
// waitForResult submission path, and duplicate submission against the same
// WorkflowID is rejected by Temporal itself.
func TaskWorkflow(ctx workflow.Context, input TaskWorkflowInput) (TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	phase := "dispatching"

	if err := workflow.SetQueryHandler(ctx, QueryGetStatus, func() (StatusSnapshot, error) {
		return StatusSnapshot{Phase: phase}, nil
	}); err != nil {
		return TaskResult{}, fmt.Errorf("register %s query: %w", QueryGetStatus, err)
	}

	// A ResponseSlot-style wait is used only for this, the remote-completion
	// wait — never for mediator tool calls, which the mediator itself must
	// never block on (spec §4.G "Suspension semantics").
	var completion *CompleteRunRequest
	if err := workflow.SetUpdateHandlerWithOptions(
		ctx,
		UpdateCompleteRun,
		func(ctx workflow.Context, req CompleteRunRequest) (CompleteRunResponse, error) {
			if completion != nil {
				return CompleteRunResponse{AlreadyFinal: true}, nil
			}
			completion = &req
			return CompleteRunResponse{AlreadyFinal: false}, nil
		},
		workflow.UpdateHandlerOptions{
			Validator: func(ctx workflow.Context, req CompleteRunRequest) error {
				if req.RunID != input.TaskID {
					return temporal.NewApplicationError("runId does not match this task", "InvalidRequest")
				}
				if !req.Status.IsTerminal() {
					return temporal.NewApplicationError("status must be terminal", "InvalidRequest")
				}
				return nil
			},
		},
	); err != nil {
		return TaskResult{}, fmt.Errorf("register %s update: %w", UpdateCompleteRun, err)
	}

	actCtx := activityOptions(ctx)

	if err := workflow.ExecuteActivity(actCtx, "MarkTaskRunning", MarkTaskRunningInput{
		TaskID: input.TaskID, WorkspaceID: input.WorkspaceID,
	}).Get(ctx, nil); err != nil {
		return TaskResult{}, fmt.Errorf("mark task running: %w", err)
	}
	phase = "running"

	deadline := time.Duration(input.TimeoutMs) * time.Millisecond
	if deadline <= 0 {
		deadline = 0 // no enforced timeout; relies on activity StartToCloseTimeout alone
	}

	var result TaskResult
	var runErr error
	if input.RuntimeID == RuntimeInProcess {
		result, runErr = runInProcess(ctx, actCtx, input, deadline)
	} else {
		phase = "awaiting_remote"
		result, runErr = runRemote(ctx, actCtx, input, deadline, &completion)
	}
	if runErr != nil {
		return TaskResult{}, runErr
	}

	if err := workflow.ExecuteActivity(actCtx, "RecordTerminal", RecordTerminalInput{
		TaskID: input.TaskID, WorkspaceID: input.WorkspaceID,
		Status: result.Status, ExitCode: result.ExitCode, Result: result.Result, Error: result.Error,
	}).Get(ctx, nil); err != nil {
		return TaskResult{}, fmt.Errorf("record terminal transition: %w", err)
	}
	phase = "done"

	logger.Info("task finished", "taskId", input.TaskID, "status", string(result.Status))
	return result, nil
}

// runInProcessTimeoutCap bounds a task with no (or an absurdly long)
// declared timeoutMs, so the RunInProcess activity's StartToCloseTimeout is
// always finite.
const runInProcessTimeoutCap = 24 * time.Hour

// runInProcess dispatches to the in-process Starlark runtime: a single
// long-running activity loops tool calls to completion, heartbeating on
// every APPROVAL_PENDING retry, so the workflow just awaits it (optionally
// bounded by a workflow timer for timeoutMs). Unlike the shared short-lived
// activities (MarkTaskRunning, RecordTerminal), this activity's
// StartToCloseTimeout must track the task's own timeoutMs, not a fixed
// 30-second default.
func runInProcess(ctx, _ workflow.Context, input TaskWorkflowInput, deadline time.Duration) (TaskResult, error) {
	runTimeout := deadline
	if runTimeout <= 0 || runTimeout > runInProcessTimeoutCap {
		runTimeout = runInProcessTimeoutCap
	}
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: runTimeout,
		HeartbeatTimeout:    10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out RunInProcessOutput
	future := workflow.ExecuteActivity(runCtx, "RunInProcess", RunInProcessInput{
		TaskID: input.TaskID, WorkspaceID: input.WorkspaceID,
		ActorID: input.ActorID, ClientID: input.ClientID, Code: input.Code,
	})

	if deadline > 0 {
		timedOut, err := awaitFutureWithTimeout(ctx, future, deadline)
		if err != nil {
			return TaskResult{}, err
		}
		if timedOut {
			return TaskResult{Status: models.TaskStatusTimedOut, Error: "task exceeded timeoutMs"}, nil
		}
	}

	if err := future.Get(ctx, &out); err != nil {
		return TaskResult{}, fmt.Errorf("run in-process task: %w", err)
	}
	return outputToResult(out), nil
}

// runRemote dispatches the run to a remote sandbox worker and awaits the
// complete_run Update it calls back with, per spec §4.F "Remote sandbox
// runtime" / "Callbacks". completion is a pointer to the closure variable
// the Update handler populates.
func runRemote(ctx, actCtx workflow.Context, input TaskWorkflowInput, deadline time.Duration, completion **CompleteRunRequest) (TaskResult, error) {
	if err := workflow.ExecuteActivity(actCtx, "DispatchRemoteRun", DispatchRemoteRunInput{
		TaskID: input.TaskID, WorkspaceID: input.WorkspaceID,
		Code: input.Code, TimeoutMs: input.TimeoutMs,
	}).Get(ctx, nil); err != nil {
		return TaskResult{}, fmt.Errorf("dispatch remote run: %w", err)
	}

	cond := func() bool { return *completion != nil }
	if deadline > 0 {
		ok, err := workflow.AwaitWithTimeout(ctx, deadline, cond)
		if err != nil {
			return TaskResult{}, fmt.Errorf("await complete_run: %w", err)
		}
		if !ok {
			return TaskResult{Status: models.TaskStatusTimedOut, Error: "task exceeded timeoutMs"}, nil
		}
	} else if err := workflow.Await(ctx, cond); err != nil {
		return TaskResult{}, fmt.Errorf("await complete_run: %w", err)
	}

	req := *completion
	return TaskResult{Status: req.Status, ExitCode: req.ExitCode, Result: req.Result, Error: req.Error}, nil
}

func outputToResult(out RunInProcessOutput) TaskResult {
	if out.Error == "" {
		return TaskResult{Status: models.TaskStatusCompleted, Result: out.Result}
	}
	if out.Denied {
		return TaskResult{Status: models.TaskStatusDenied, Error: out.Error}
	}
	return TaskResult{Status: models.TaskStatusFailed, Error: out.Error}
}

// awaitFutureWithTimeout races an activity future against a timer, the
// pattern workflow.AwaitWithTimeout offers for conditions but not futures.
func awaitFutureWithTimeout(ctx workflow.Context, future workflow.Future, timeout time.Duration) (timedOut bool, err error) {
	done := false
	timer := workflow.NewTimer(ctx, timeout)
	selector := workflow.NewSelector(ctx)
	selector.AddFuture(future, func(f workflow.Future) { done = true })
	selector.AddFuture(timer, func(f workflow.Future) {
		if f.Get(ctx, nil) == nil {
			timedOut = true
		}
	})
	selector.Select(ctx)
	if done {
		return false, nil
	}
	if timedOut {
		return true, nil
	}
	return false, errors.New("selector resolved without a ready branch")
}
