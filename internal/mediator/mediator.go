// Package mediator implements the tool-call mediator (spec §4.G): a plain
// Go service invoked directly by the in-process runtime and the remote
// runtime's HTTP callback handler — never as a Temporal activity, since the
// mediator itself must never block waiting on a human (spec §4.G
// "Suspension semantics").
//
// Maps to: internal/tools/registry.go's single-call-in/single-result-out
// shape, generalized with the idempotency/policy/credential/approval
// pipeline spec §4.G describes.
package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/inventory"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/policy"
	"github.com/runlayer/coordinator/internal/store"
	"github.com/runlayer/coordinator/internal/toolsource"
)

// defaultRetryAfterMs is the isolate-harness default of spec §4.G
// "Suspension semantics".
const defaultRetryAfterMs = 500

// CredentialResolver resolves a tool's declared credential spec into HTTP
// headers. Implemented by *credential.Resolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, workspaceID, actorID string, spec models.CredentialSpec) (map[string]string, error)
}

// Catalog materializes a workspace's runnable tool map. Implemented by
// *inventory.Inventory.
type Catalog interface {
	MaterializeForTask(ctx context.Context, workspaceID string) (*inventory.BuildResult, error)
}

// Mediator is the stateless tool-call entry point described by spec §4.G.
type Mediator struct {
	store      *store.Store
	credential CredentialResolver
	catalog    Catalog
}

func New(st *store.Store, cred CredentialResolver, catalog Catalog) *Mediator {
	return &Mediator{store: st, credential: cred, catalog: catalog}
}

// Caller identifies who issued the call, for policy scoping and the
// RunContext exposed to Run.
type Caller struct {
	ActorID  string
	ClientID string
}

// Invoke runs the full spec §4.G procedure for one tool call. Outcomes of
// the call itself are apierr errors (*apierr.Error, *apierr.ApprovalPendingError
// or *apierr.ToolUnknownError), whose Kind apierr.As inspects; Store and
// catalog failures are returned as plain errors.
func (m *Mediator) Invoke(ctx context.Context, task *models.Task, caller Caller, callID, toolPath string, input map[string]any) (any, error) {
	now := time.Now().UnixMilli()

	// Step 1: idempotency.
	tc, err := m.upsertToolCall(ctx, task.WorkspaceID, task.ID, callID, toolPath, now)
	if err != nil {
		return nil, err
	}
	switch tc.Status {
	case models.ToolCallStatusCompleted:
		return nil, apierr.IdempotencyConflict()
	case models.ToolCallStatusFailed:
		return nil, &apierr.Error{Kind: apierr.KindRuntimeError, Message: tc.Error}
	case models.ToolCallStatusDenied:
		return nil, &apierr.Error{Kind: apierr.KindApprovalDenied, Message: tc.Error}
	}

	// Step 2: resolve tool.
	built, err := m.catalog.MaterializeForTask(ctx, task.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("materialize tool catalog: %w", err)
	}
	def, suggestions := resolveTool(toolPath, built.Tools)
	if def == nil {
		return nil, apierr.NewToolUnknown(toolPath, suggestions)
	}

	// Step 3: decide.
	policies, err := m.listPolicies(ctx, task.WorkspaceID)
	if err != nil {
		return nil, err
	}
	decision, effectivePath := decideFor(*def, toolPath, input, policy.Caller{ActorID: caller.ActorID, ClientID: caller.ClientID}, policies)
	if decision == models.DecisionDeny {
		if err := m.terminalToolCall(ctx, task.WorkspaceID, task.ID, callID, models.ToolCallStatusDenied, "", now); err != nil {
			return nil, err
		}
		if err := m.emitToolEvent(ctx, task.WorkspaceID, task.ID, models.EventToolCallDenied, callID, effectivePath, now); err != nil {
			return nil, err
		}
		return nil, apierr.PolicyDeny(effectivePath)
	}

	// Step 4: credential.
	headers := map[string]string{}
	if def.Credential != nil {
		h, err := m.credential.Resolve(ctx, task.WorkspaceID, caller.ActorID, *def.Credential)
		if err != nil {
			return nil, err
		}
		headers = h
	}

	// Step 5: approval gate.
	if decision == models.DecisionRequireApproval {
		if err := m.gateApproval(ctx, task, callID, toolPath, input, tc, now); err != nil {
			return nil, err
		}
	}

	// Step 6: dispatch.
	rc := toolsource.RunContext{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		ActorID:     caller.ActorID,
		ClientID:    caller.ClientID,
		Credential:  headers,
		IsToolAllowed: func(path string) bool {
			d := built.Tools[path]
			dec := policy.Decide(policy.Tool{Path: path, ApprovalRequired: d.ApprovalRequired}, policy.Caller{ActorID: caller.ActorID, ClientID: caller.ClientID}, policies)
			return dec != models.DecisionDeny
		},
	}

	value, runErr := def.Run(ctx, input, rc)
	completedAt := time.Now().UnixMilli()
	if runErr != nil {
		if err := m.terminalToolCall(ctx, task.WorkspaceID, task.ID, callID, models.ToolCallStatusFailed, runErr.Error(), completedAt); err != nil {
			return nil, err
		}
		if err := m.emitToolEvent(ctx, task.WorkspaceID, task.ID, models.EventToolCallFailed, callID, toolPath, completedAt); err != nil {
			return nil, err
		}
		return nil, &apierr.Error{Kind: apierr.KindRuntimeError, Message: runErr.Error(), Wrapped: runErr}
	}

	if err := m.terminalToolCall(ctx, task.WorkspaceID, task.ID, callID, models.ToolCallStatusCompleted, "", completedAt); err != nil {
		return nil, err
	}
	if err := m.emitToolEvent(ctx, task.WorkspaceID, task.ID, models.EventToolCallCompleted, callID, toolPath, completedAt); err != nil {
		return nil, err
	}
	return value, nil
}

// decideFor evaluates policy for a resolved tool, dispatching to the
// GraphQL per-field aggregation of spec §4.B step 6 when the resolved
// definition is a raw GraphQL passthrough tool: every root field selected
// in the caller-supplied document is evaluated individually and the worst
// decision wins.
func decideFor(def toolsource.ToolDefinition, toolPath string, input map[string]any, caller policy.Caller, policies []models.AccessPolicy) (models.PolicyDecision, string) {
	if isGraphQLRaw, _ := def.Metadata["graphqlRaw"].(bool); isGraphQLRaw {
		source, _ := def.Metadata["graphqlSource"].(string)
		op, _ := def.Metadata["graphqlOp"].(string)
		document, _ := input["query"].(string)

		fieldNames := extractTopLevelFields(document)
		if len(fieldNames) == 0 {
			return policy.Decide(policy.Tool{Path: toolPath}, caller, policies), toolPath
		}
		fields := make([]policy.GraphQLField, 0, len(fieldNames))
		for _, name := range fieldNames {
			fields = append(fields, policy.GraphQLField{Path: fmt.Sprintf("%s.%s.%s", source, op, name)})
		}
		return policy.DecideGraphQL(fields, caller, policies)
	}
	return policy.Decide(policy.Tool{Path: toolPath, ApprovalRequired: def.ApprovalRequired}, caller, policies), toolPath
}

func (m *Mediator) upsertToolCall(ctx context.Context, workspaceID, taskID, callID, toolPath string, now int64) (*models.ToolCall, error) {
	var tc *models.ToolCall
	err := m.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		t, err := mc.UpsertRequestedToolCall(ctx, taskID, callID, toolPath, now)
		if err != nil {
			return err
		}
		tc = t
		return nil
	})
	return tc, err
}

func (m *Mediator) terminalToolCall(ctx context.Context, workspaceID, taskID, callID string, status models.ToolCallStatus, errMsg string, now int64) error {
	return m.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		return mc.SetToolCallTerminal(ctx, taskID, callID, status, errMsg, now)
	})
}

func (m *Mediator) emitToolEvent(ctx context.Context, workspaceID, taskID, eventType, callID, toolPath string, now int64) error {
	return m.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		_, err := mc.AppendTaskEvent(ctx, taskID, models.TaskEventNameTask, eventType, map[string]any{
			"callId": callID, "toolPath": toolPath,
		}, now)
		return err
	})
}

func (m *Mediator) listPolicies(ctx context.Context, workspaceID string) ([]models.AccessPolicy, error) {
	var policies []models.AccessPolicy
	err := m.store.Query(ctx, workspaceID, func(ctx context.Context, qc *store.QueryContext) error {
		p, err := qc.ListAccessPolicies(ctx, workspaceID)
		if err != nil {
			return err
		}
		policies = p
		return nil
	})
	return policies, err
}

// gateApproval implements spec §4.G step 5. A nil return means the call is
// approved and dispatch should proceed; any non-nil error is the caller's
// final outcome (APPROVAL_PENDING or APPROVAL_DENIED).
func (m *Mediator) gateApproval(ctx context.Context, task *models.Task, callID, toolPath string, input map[string]any, tc *models.ToolCall, now int64) error {
	if tc.ApprovalID != "" {
		var approval *models.Approval
		err := m.store.Query(ctx, task.WorkspaceID, func(ctx context.Context, qc *store.QueryContext) error {
			a, err := qc.GetApproval(ctx, tc.ApprovalID)
			if err != nil {
				return err
			}
			approval = a
			return nil
		})
		if err != nil {
			return err
		}
		switch approval.Status {
		case models.ApprovalStatusPending:
			return apierr.NewApprovalPending(approval.ApprovalID, defaultRetryAfterMs)
		case models.ApprovalStatusDenied:
			if err := m.terminalToolCall(ctx, task.WorkspaceID, task.ID, callID, models.ToolCallStatusDenied, "", now); err != nil {
				return err
			}
			if err := m.emitToolEvent(ctx, task.WorkspaceID, task.ID, models.EventToolCallDenied, callID, toolPath, now); err != nil {
				return err
			}
			return apierr.ApprovalDenied(approval.ApprovalID)
		default: // approved
			return nil
		}
	}

	approvalID := "approval_" + uuid.NewString()
	err := m.store.Mutate(ctx, task.WorkspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		if err := mc.InsertApproval(ctx, &models.Approval{
			ApprovalID: approvalID, TaskID: task.ID, ToolPath: toolPath,
			Input: input, Status: models.ApprovalStatusPending, CreatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := mc.AppendTaskEvent(ctx, task.ID, models.TaskEventNameApproval, models.EventApprovalRequested,
			map[string]any{"approvalId": approvalID, "toolPath": toolPath}, now); err != nil {
			return err
		}
		return mc.PatchToolCallPendingApproval(ctx, task.ID, callID, approvalID, now)
	})
	if err != nil {
		return err
	}
	return apierr.NewApprovalPending(approvalID, defaultRetryAfterMs)
}

// ResolveApproval implements spec §4.G "Approval resolution": guarded to
// pending -> {approved, denied} only, idempotent thereafter.
func (m *Mediator) ResolveApproval(ctx context.Context, workspaceID, approvalID string, decision models.ApprovalStatus, reviewerID, reason string) (*models.Approval, error) {
	var approval *models.Approval
	now := time.Now().UnixMilli()
	err := m.store.Mutate(ctx, workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		a, err := mc.ResolveApproval(ctx, approvalID, decision, reviewerID, reason, now)
		if err != nil {
			return err
		}
		if a == nil {
			return nil // already resolved; no-op
		}
		_, err = mc.AppendTaskEvent(ctx, a.TaskID, models.TaskEventNameApproval, models.EventApprovalResolved,
			map[string]any{"approvalId": approvalID, "decision": string(decision)}, now)
		approval = a
		return err
	})
	return approval, err
}
