package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// UpsertRequestedToolCall inserts a fresh (taskId, callId) row in "requested"
// status, or returns the existing row unchanged if one already exists. This
// is the idempotency gate of spec §4.G step 1: at most one non-terminal
// outstanding invocation per (taskId, callId).
func (mc *MutationContext) UpsertRequestedToolCall(ctx context.Context, taskID, callID, toolPath string, now int64) (*models.ToolCall, error) {
	row := mc.tx.QueryRow(ctx, `
		INSERT INTO tool_calls (task_id, call_id, tool_path, status, created_at, updated_at)
		VALUES ($1,$2,$3,'requested',$4,$4)
		ON CONFLICT (task_id, call_id) DO UPDATE SET task_id = tool_calls.task_id
		RETURNING task_id, call_id, tool_path, status, coalesce(approval_id,''), coalesce(error,''), created_at, updated_at
	`, taskID, callID, toolPath, now)
	return scanToolCall(row)
}

// GetToolCall reads a toolCall row.
func (qc *QueryContext) GetToolCall(ctx context.Context, taskID, callID string) (*models.ToolCall, error) {
	row := qc.tx.QueryRow(ctx, `
		SELECT task_id, call_id, tool_path, status, coalesce(approval_id,''), coalesce(error,''), created_at, updated_at
		FROM tool_calls WHERE task_id = $1 AND call_id = $2
	`, taskID, callID)
	tc, err := scanToolCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tc, err
}

// PatchToolCallPendingApproval moves a toolCall to pending_approval and
// attaches the newly created approval id.
func (mc *MutationContext) PatchToolCallPendingApproval(ctx context.Context, taskID, callID, approvalID string, now int64) error {
	_, err := mc.tx.Exec(ctx, `
		UPDATE tool_calls SET status = 'pending_approval', approval_id = $3, updated_at = $4
		WHERE task_id = $1 AND call_id = $2
	`, taskID, callID, approvalID, now)
	return err
}

// SetToolCallTerminal records a completed/failed/denied outcome.
func (mc *MutationContext) SetToolCallTerminal(ctx context.Context, taskID, callID string, status models.ToolCallStatus, errMsg string, now int64) error {
	_, err := mc.tx.Exec(ctx, `
		UPDATE tool_calls SET status = $3, error = $4, updated_at = $5
		WHERE task_id = $1 AND call_id = $2
	`, taskID, callID, status, nullableString(errMsg), now)
	return err
}

func scanToolCall(row pgx.Row) (*models.ToolCall, error) {
	var tc models.ToolCall
	if err := row.Scan(&tc.TaskID, &tc.CallID, &tc.ToolPath, &tc.Status, &tc.ApprovalID, &tc.Error, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		return nil, err
	}
	return &tc, nil
}
