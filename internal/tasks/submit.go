package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
)

// TaskQueue is the Temporal task queue every TaskWorkflow and CodePurgeWorkflow
// run on.
const TaskQueue = "coordinator-tasks"

// SubmitRequest is the validated-at-the-boundary input to Submit (spec §4.F
// "Submission").
type SubmitRequest struct {
	WorkspaceID   string
	AccountID     string
	ActorID       string
	ClientID      string
	Code          string
	RuntimeID     string
	TimeoutMs     int64
	Metadata      map[string]any
	WaitForResult bool
}

// Submitter validates and starts task runs (spec §4.F "Submission",
// "Waiting").
type Submitter struct {
	store           *store.Store
	temporal        client.Client
	taskQueue       string
	enabledRuntimes map[string]bool
}

func NewSubmitter(st *store.Store, temporal client.Client, taskQueue string, enabledRuntimes []string) *Submitter {
	enabled := make(map[string]bool, len(enabledRuntimes))
	for _, id := range enabledRuntimes {
		enabled[id] = true
	}
	return &Submitter{store: st, temporal: temporal, taskQueue: taskQueue, enabledRuntimes: enabled}
}

// Submit validates and inserts the task row, then starts (or, if
// waitForResult, starts and awaits) the TaskWorkflow.
//
// Invalid submissions still produce a row — queued then immediately
// terminally transitioned to failed — rather than being rejected before
// creation, per spec §4.F's "queued --terminal--> {failed | denied}
// (validation or unknown runtime)" transition.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	if req.ActorID == "" {
		return nil, apierr.Unauthorized("actorId is required")
	}

	now := time.Now().UnixMilli()
	task := &models.Task{
		ID:          "task_" + uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		AccountID:   req.AccountID,
		ClientID:    req.ClientID,
		Code:        req.Code,
		RuntimeID:   req.RuntimeID,
		TimeoutMs:   req.TimeoutMs,
		Metadata:    req.Metadata,
		Status:      models.TaskStatusQueued,
		CreatedAt:   now,
	}

	if err := s.store.Mutate(ctx, req.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		if err := mc.InsertTask(ctx, task); err != nil {
			return err
		}
		if _, err := mc.AppendTaskEvent(ctx, task.ID, models.TaskEventNameTask, models.EventTaskCreated, nil, now); err != nil {
			return err
		}
		_, err := mc.AppendTaskEvent(ctx, task.ID, models.TaskEventNameTask, models.EventTaskQueued, nil, now)
		return err
	}); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if validationErr := validateSubmission(req, s.enabledRuntimes); validationErr != "" {
		failed, err := s.failValidation(ctx, task, validationErr)
		if err != nil {
			return nil, err
		}
		return failed, nil
	}

	run, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        task.ID,
		TaskQueue: s.taskQueue,
	}, TaskWorkflow, TaskWorkflowInput{
		TaskID: task.ID, WorkspaceID: task.WorkspaceID, ActorID: req.ActorID,
		ClientID: req.ClientID, Code: task.Code, RuntimeID: task.RuntimeID, TimeoutMs: task.TimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("start task workflow: %w", err)
	}

	if !req.WaitForResult {
		return task, nil
	}

	var result TaskResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("await task result: %w", err)
	}
	task.Status = result.Status
	task.ExitCode = result.ExitCode
	task.Result = result.Result
	task.Error = result.Error
	return task, nil
}

func (s *Submitter) failValidation(ctx context.Context, task *models.Task, reason string) (*models.Task, error) {
	now := time.Now().UnixMilli()
	var failed *models.Task
	err := s.store.Mutate(ctx, task.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		t, err := mc.TerminalTransition(ctx, task.ID, models.TaskStatusFailed, nil, nil, reason, now)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		failed = t
		_, err = mc.AppendTaskEvent(ctx, task.ID, models.TaskEventNameTask, models.EventTaskFailed, nil, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record validation failure: %w", err)
	}
	return failed, nil
}

// validateSubmission returns a non-empty failure reason, or "" if the
// submission is valid (spec §4.F Submission: "non-empty code, recognized
// runtime id, enabled for this deployment").
func validateSubmission(req SubmitRequest, enabledRuntimes map[string]bool) string {
	if req.Code == "" {
		return "code must not be empty"
	}
	if req.RuntimeID == "" || !enabledRuntimes[req.RuntimeID] {
		return fmt.Sprintf("unrecognized or disabled runtime %q", req.RuntimeID)
	}
	return ""
}
