package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/runlayer/coordinator/internal/models"
)

// InsertApproval creates a new pending approval row.
func (mc *MutationContext) InsertApproval(ctx context.Context, a *models.Approval) error {
	input, err := json.Marshal(a.Input)
	if err != nil {
		return err
	}
	_, err = mc.tx.Exec(ctx, `
		INSERT INTO approvals (approval_id, workspace_id, task_id, tool_path, input, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.ApprovalID, mc.workspaceID, a.TaskID, a.ToolPath, input, a.Status, a.CreatedAt)
	return err
}

// GetApproval reads an approval by id.
func (qc *QueryContext) GetApproval(ctx context.Context, approvalID string) (*models.Approval, error) {
	row := qc.tx.QueryRow(ctx, `
		SELECT approval_id, task_id, tool_path, input, status, coalesce(reviewer_id,''), coalesce(reason,''), created_at, resolved_at
		FROM approvals WHERE approval_id = $1
	`, approvalID)
	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ResolveApproval moves a pending approval to approved/denied. Idempotent:
// resolving a non-pending approval is a no-op returning nil, nil.
func (mc *MutationContext) ResolveApproval(ctx context.Context, approvalID string, decision models.ApprovalStatus, reviewerID, reason string, now int64) (*models.Approval, error) {
	row := mc.tx.QueryRow(ctx, `
		UPDATE approvals SET status = $2, reviewer_id = $3, reason = $4, resolved_at = $5
		WHERE approval_id = $1 AND status = 'pending'
		RETURNING approval_id, task_id, tool_path, input, status, coalesce(reviewer_id,''), coalesce(reason,''), created_at, resolved_at
	`, approvalID, decision, nullableString(reviewerID), nullableString(reason), now)
	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanApproval(row pgx.Row) (*models.Approval, error) {
	var a models.Approval
	var input []byte
	if err := row.Scan(&a.ApprovalID, &a.TaskID, &a.ToolPath, &input, &a.Status, &a.ReviewerID, &a.Reason, &a.CreatedAt, &a.ResolvedAt); err != nil {
		return nil, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &a.Input); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
