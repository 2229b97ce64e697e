// Package callback implements the internal runtime-callback HTTP surface
// (spec §6.3): the endpoints a remote sandbox worker calls back on to
// route a tool call through the mediator, and to report a run's terminal
// outcome.
//
// Maps to: internal/cli/commands.go's UpdateWorkflow/WaitForStage pattern
// for completeRun, and the mediator's own synchronous contract for
// handleToolCall — this package owns no logic of its own beyond
// authentication, payload shape, and Temporal dispatch.
package callback

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"go.temporal.io/sdk/client"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/mediator"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
	"github.com/runlayer/coordinator/internal/tasks"
)

// Server implements the two internalSecret-authenticated endpoints of spec
// §6.3. Run id and Temporal workflow id are the same string (tasks.Submit
// starts TaskWorkflow with WorkflowID: task.ID), so completeRun needs no
// separate run→workflow lookup.
type Server struct {
	store          *store.Store
	med            *mediator.Mediator
	temporal       client.Client
	internalSecret string
}

func NewServer(st *store.Store, med *mediator.Mediator, temporal client.Client, internalSecret string) *Server {
	return &Server{store: st, med: med, temporal: temporal, internalSecret: internalSecret}
}

func (s *Server) authenticate(r *http.Request) bool {
	got := r.Header.Get("X-Internal-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.internalSecret)) == 1
}

// toolCallRequest is handleToolCall's body (spec §6.3).
type toolCallRequest struct {
	RunID    string         `json:"runId"`
	CallID   string         `json:"callId"`
	ToolPath string         `json:"toolPath"`
	Input    map[string]any `json:"input"`
	ActorID  string         `json:"actorId"`
	ClientID string         `json:"clientId,omitempty"`
}

// toolCallResponse mirrors the {ok, kind, ...} variants spec §6.3 defines.
type toolCallResponse struct {
	OK           bool   `json:"ok"`
	Value        any    `json:"value,omitempty"`
	Kind         string `json:"kind,omitempty"`
	ApprovalID   string `json:"approvalId,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleToolCall implements spec §6.3's handleToolCall: authenticated,
// synchronous, direct pass-through to the mediator.
func (s *Server) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		http.Error(w, "invalid internal secret", http.StatusUnauthorized)
		return
	}

	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	task, err := s.loadTask(r.Context(), req.RunID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown runId", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	value, err := s.med.Invoke(r.Context(), task, mediator.Caller{ActorID: req.ActorID, ClientID: req.ClientID}, req.CallID, req.ToolPath, req.Input)
	writeJSON(w, http.StatusOK, toolCallResult(value, err))
}

func toolCallResult(value any, err error) toolCallResponse {
	if err == nil {
		return toolCallResponse{OK: true, Value: value}
	}
	var pending *apierr.ApprovalPendingError
	if errors.As(err, &pending) {
		return toolCallResponse{OK: false, Kind: "pending", ApprovalID: pending.ApprovalID, RetryAfterMs: pending.RetryAfterMs}
	}
	if apierr.As(err, apierr.KindApprovalDenied) || apierr.As(err, apierr.KindPolicyDeny) {
		return toolCallResponse{OK: false, Kind: "denied", Error: err.Error()}
	}
	return toolCallResponse{OK: false, Kind: "failed", Error: err.Error()}
}

func (s *Server) loadTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task *models.Task
	err := s.store.Query(ctx, "", func(ctx context.Context, qc *store.QueryContext) error {
		t, err := qc.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

// completeRunRequest is completeRun's body (spec §6.3).
type completeRunRequest struct {
	RunID      string            `json:"runId"`
	Status     models.TaskStatus `json:"status"`
	ExitCode   *int              `json:"exitCode,omitempty"`
	Result     any               `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
}

type completeRunResponse struct {
	OK           bool `json:"ok"`
	AlreadyFinal bool `json:"alreadyFinal,omitempty"`
}

// HandleCompleteRun implements spec §6.3's completeRun by delivering a
// complete_run Update to the task's TaskWorkflow, grounded on
// internal/cli/commands.go's UpdateWorkflow/WaitForStage/Get pattern.
func (s *Server) HandleCompleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		http.Error(w, "invalid internal secret", http.StatusUnauthorized)
		return
	}

	var req completeRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	updateHandle, err := s.temporal.UpdateWorkflow(r.Context(), client.UpdateWorkflowOptions{
		WorkflowID: req.RunID,
		UpdateName: tasks.UpdateCompleteRun,
		Args: []any{tasks.CompleteRunRequest{
			RunID: req.RunID, Status: req.Status, ExitCode: req.ExitCode,
			Result: req.Result, Error: req.Error, DurationMs: req.DurationMs,
		}},
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
	if err != nil {
		http.Error(w, "send complete_run update: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var resp tasks.CompleteRunResponse
	if err := updateHandle.Get(r.Context(), &resp); err != nil {
		http.Error(w, "complete_run update failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, completeRunResponse{OK: true, AlreadyFinal: resp.AlreadyFinal})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
