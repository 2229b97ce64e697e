package tasks

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// PurgeInterval is how often CodePurgeWorkflow sweeps expired authorization
// codes before continuing as new.
const PurgeInterval = 1 * time.Hour

// CodePurgeWorkflowState is preserved across ContinueAsNew.
type CodePurgeWorkflowState struct {
	TotalPurged int64 `json:"totalPurged"`
}

// CodePurgeWorkflow is a long-lived, self-renewing sweep of expired
// AuthorizationCode rows (SPEC_FULL.md §11 "Idle-timeout ContinueAsNew for
// the OAuth authorization-code purge loop"). Spec.md's cap-triggered lazy
// purge (§4.I) remains the authoritative path; this is defense-in-depth so
// expired codes don't linger indefinitely in a quiet deployment.
//
// Modeled on runHarnessLoop's idle-timeout/ContinueAsNew pattern.
func CodePurgeWorkflow(ctx workflow.Context, state CodePurgeWorkflowState) error {
	logger := workflow.GetLogger(ctx)

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	ok, err := workflow.AwaitWithTimeout(ctx, PurgeInterval, func() bool { return false })
	if err != nil {
		return fmt.Errorf("purge workflow await failed: %w", err)
	}
	if ok {
		// Unreachable: the condition never becomes true. Guards against a
		// future accidental wake condition silently skipping the sweep.
		return fmt.Errorf("purge workflow woke before its timeout")
	}

	var purged int64
	if err := workflow.ExecuteActivity(actCtx, "PurgeExpiredAuthorizationCodes", struct{}{}).Get(ctx, &purged); err != nil {
		logger.Warn("authorization code purge failed", "error", err)
	} else {
		state.TotalPurged += purged
		logger.Info("purged expired authorization codes", "count", purged, "total", state.TotalPurged)
	}

	return workflow.NewContinueAsNewError(ctx, CodePurgeWorkflow, state)
}
