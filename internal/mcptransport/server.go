package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/runlayer/coordinator/internal/inventory"
	"github.com/runlayer/coordinator/internal/mediator"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/policy"
	"github.com/runlayer/coordinator/internal/store"
	"github.com/runlayer/coordinator/internal/tasks"
	"github.com/runlayer/coordinator/internal/version"
)

// Transport wires the workspace tool inventory, the invocation mediator and
// the task submitter into one MCP streamable-HTTP endpoint (spec §4.H).
type Transport struct {
	inv       *inventory.Inventory
	med       *mediator.Mediator
	submitter *tasks.Submitter
	cache     *inventory.Cache
	store     *store.Store
	auth      *Authenticator
	issuer    string
}

func NewTransport(inv *inventory.Inventory, med *mediator.Mediator, submitter *tasks.Submitter, cache *inventory.Cache, st *store.Store, auth *Authenticator, issuer string) *Transport {
	return &Transport{inv: inv, med: med, submitter: submitter, cache: cache, store: st, auth: auth, issuer: issuer}
}

// Handler builds the streamable-HTTP handler for one mount ("/mcp" or
// "/mcp/anonymous"), gated by the Authenticator.
func (t *Transport) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(t.perRequestServer, &mcp.StreamableHTTPOptions{JSONResponse: true})
	return t.withAuth(mcpHandler)
}

func (t *Transport) withAuth(inner http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := t.auth.Authenticate(r)
		if err != nil {
			t.writeUnauthorized(w, err)
			return
		}
		inner.ServeHTTP(w, r.WithContext(withAuthContext(r.Context(), auth)))
	})
}

// writeUnauthorized implements spec §4.H's 401 challenge: a
// WWW-Authenticate header carrying a resource_metadata pointer back to this
// server's own RFC 9728 metadata document.
func (t *Transport) writeUnauthorized(w http.ResponseWriter, err error) {
	resourceMetadata := t.issuer + "/.well-known/oauth-protected-resource"
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", resource_metadata=%q`, resourceMetadata))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token", "error_description": err.Error()})
}

// perRequestServer builds one *mcp.Server per request, its tool set scoped
// to the authenticated caller's workspace and policy visibility (spec §4.H
// "tools/list"). Mirrors Aureuma-si/tools/credentials-mcp/main.go's
// fixed-tool-set construction, generalized to a dynamic, per-caller set.
func (t *Transport) perRequestServer(r *http.Request) *mcp.Server {
	ctx := r.Context()
	auth := authFromContext(ctx)

	impl := &mcp.Implementation{
		Name:    "runlayer-coordinator",
		Title:   "Runlayer Code Execution Coordinator",
		Version: version.GitCommit,
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_code",
		Description: "Execute code in a sandboxed runtime and wait for its terminal result.",
	}, t.runCodeHandler(auth))

	policies, err := t.listPolicies(ctx, auth.WorkspaceID)
	if err != nil {
		return server
	}
	descriptors, _, err := t.inv.ListVisibleTools(ctx, auth.WorkspaceID, policy.Caller{ActorID: auth.ActorID, ClientID: auth.ClientID}, policies)
	if err != nil {
		return server
	}
	for _, d := range descriptors {
		if d.Path == policy.DiscoverPath {
			continue
		}
		desc := d
		mcp.AddTool(server, &mcp.Tool{
			Name:        desc.Path,
			Description: desc.Description,
		}, t.ancillaryHandler(auth, desc))
	}
	return server
}

func (t *Transport) listPolicies(ctx context.Context, workspaceID string) ([]models.AccessPolicy, error) {
	var policies []models.AccessPolicy
	err := t.store.Query(ctx, workspaceID, func(ctx context.Context, qc *store.QueryContext) error {
		p, err := qc.ListAccessPolicies(ctx, workspaceID)
		if err != nil {
			return err
		}
		policies = p
		return nil
	})
	return policies, err
}

// RunCodeInput is the run_code tool's input schema (spec §4.H).
type RunCodeInput struct {
	Code      string         `json:"code"`
	RuntimeID string         `json:"runtimeId"`
	TimeoutMs int64          `json:"timeoutMs,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// runCodeHandler implements spec §4.H's "tools/call run_code": always
// creates a task with waitForResult=true and renders its terminal status as
// a text content block.
func (t *Transport) runCodeHandler(auth AuthContext) func(ctx context.Context, _ *mcp.CallToolRequest, in RunCodeInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in RunCodeInput) (*mcp.CallToolResult, any, error) {
		task, err := t.submitter.Submit(ctx, tasks.SubmitRequest{
			WorkspaceID:   auth.WorkspaceID,
			ActorID:       auth.ActorID,
			ClientID:      auth.ClientID,
			Code:          in.Code,
			RuntimeID:     in.RuntimeID,
			TimeoutMs:     in.TimeoutMs,
			Metadata:      in.Metadata,
			WaitForResult: true,
		})
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return taskResult(task), nil, nil
	}
}

// ancillaryHandler proxies a non-run_code tool call through the invocation
// mediator directly (spec §4.H "Ancillary tools … proxy through the
// invocation mediator"). The call is given a synthetic ad-hoc task record
// for credential/event scoping, since it is not part of any task's run.
func (t *Transport) ancillaryHandler(auth AuthContext, desc inventory.ToolDescriptor) func(ctx context.Context, _ *mcp.CallToolRequest, in map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in map[string]any) (*mcp.CallToolResult, any, error) {
		adhoc := &models.Task{ID: "mcpcall_" + uuid.NewString(), WorkspaceID: auth.WorkspaceID}
		value, err := t.med.Invoke(ctx, adhoc, mediator.Caller{ActorID: auth.ActorID, ClientID: auth.ClientID}, "mcpcall_"+uuid.NewString(), desc.Path, in)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			return errorResult(marshalErr.Error()), nil, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}}}, nil, nil
	}
}

// taskResult renders run_code's terminal outcome as spec §4.H requires: a
// "status: <terminal>" line followed by a JSON object carrying whichever of
// exitCode, result and error are set, isError on a denied terminal.
func taskResult(task *models.Task) *mcp.CallToolResult {
	body := map[string]any{}
	if task.ExitCode != nil {
		body["exitCode"] = *task.ExitCode
	}
	if task.Result != nil {
		body["result"] = task.Result
	}
	if task.Error != "" {
		body["error"] = task.Error
	}
	raw, _ := json.Marshal(body)
	text := fmt.Sprintf("status: %s\n%s", task.Status, raw)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: task.Status == models.TaskStatusDenied,
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: msg}}, IsError: true}
}
