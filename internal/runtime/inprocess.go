// Package runtime implements the two task-dispatch backends of spec §4.F:
// the in-process Starlark runtime (this file) and the remote-sandbox HTTP
// dispatcher (remote.go).
//
// Maps to: internal/execpolicy/parser.go's use of go.starlark.net —
// generalized from a declarative policy DSL to a general-purpose task
// script runtime with an injected, mediator-backed "tools" object, per
// SPEC_FULL.md's note that go.starlark.net is the in-process runtime's
// execution engine.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/models"
)

// Caller identifies who submitted the task, threaded through to every
// mediated tool call.
type Caller struct {
	ActorID  string
	ClientID string
}

// Invoker is the mediator entry point the in-process runtime calls for
// every tool invocation. Implemented by *mediator.Mediator.
type Invoker interface {
	Invoke(ctx context.Context, task *models.Task, caller Caller, callID, toolPath string, input map[string]any) (any, error)
}

// defaultRetryAfter is used when an ApprovalPendingError carries no
// explicit interval.
const defaultRetryAfter = 500 * time.Millisecond

// InProcessRunner executes task code as Starlark, dispatching every tool
// call through an Invoker (spec §4.F "In-process runtime").
type InProcessRunner struct {
	invoker Invoker
}

func NewInProcessRunner(invoker Invoker) *InProcessRunner {
	return &InProcessRunner{invoker: invoker}
}

// Run executes task.Code to completion, retrying APPROVAL_PENDING outcomes
// in place (spec §4.G "Suspension semantics": "in a cooperative single-call
// runtime, the runtime retries the call at an interval >= retryAfterMs").
// heartbeat, if non-nil, is invoked before each retry sleep so a Temporal
// activity host can record liveness.
func (r *InProcessRunner) Run(ctx context.Context, task *models.Task, caller Caller, heartbeat func()) (any, error) {
	if heartbeat == nil {
		heartbeat = func() {}
	}
	root := &toolNode{runner: r, ctx: ctx, task: task, caller: caller, heartbeat: heartbeat}

	thread := &starlark.Thread{Name: task.ID}
	predeclared := starlark.StringDict{"tools": root}

	globals, err := starlark.ExecFile(thread, task.ID, task.Code, predeclared)
	if err != nil {
		// Wrap (not reformat) so callers can errors.As through to the
		// original mediator error (e.g. *apierr.Error) to classify the
		// task's terminal status; EvalError carries a Backtrace for
		// human-facing diagnostics only.
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("task script error: %s: %w", evalErr.Backtrace(), err)
		}
		return nil, fmt.Errorf("task script error: %w", err)
	}

	if result, ok := globals["result"]; ok {
		return fromStarlark(result)
	}
	return nil, nil
}

// toolNode is both a callable tool handle and an attribute-dispatch proxy:
// accessing tools.slack returns a child node with path "slack"; accessing
// .send_message on it returns a node with path "slack.send_message"; calling
// that node invokes the mediator with the accumulated dotted path. This
// lets one Starlark object model every tool path's depth (2-segment REST
// tools, 3-segment GraphQL field tools) without a fixed schema.
type toolNode struct {
	runner    *InProcessRunner
	ctx       context.Context
	task      *models.Task
	caller    Caller
	path      string
	heartbeat func()
}

var (
	_ starlark.Value    = (*toolNode)(nil)
	_ starlark.HasAttrs = (*toolNode)(nil)
	_ starlark.Callable = (*toolNode)(nil)
)

func (n *toolNode) String() string {
	if n.path == "" {
		return "<tools>"
	}
	return fmt.Sprintf("<tool %s>", n.path)
}
func (n *toolNode) Type() string          { return "tool" }
func (n *toolNode) Freeze()               {}
func (n *toolNode) Truth() starlark.Bool  { return starlark.True }
func (n *toolNode) Hash() (uint32, error) { return 0, fmt.Errorf("tool handles are not hashable") }
func (n *toolNode) Name() string          { return n.path }

func (n *toolNode) Attr(name string) (starlark.Value, error) {
	child := name
	if n.path != "" {
		child = n.path + "." + name
	}
	return &toolNode{runner: n.runner, ctx: n.ctx, task: n.task, caller: n.caller, path: child, heartbeat: n.heartbeat}, nil
}

func (n *toolNode) AttrNames() []string { return nil }

// CallInternal dispatches the accumulated path through the mediator,
// retrying in place on APPROVAL_PENDING.
func (n *toolNode) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if n.path == "" {
		return nil, fmt.Errorf("tools is not directly callable; access a tool path first, e.g. tools.slack.send_message(...)")
	}

	input, err := kwargsToInput(args, kwargs)
	if err != nil {
		return nil, err
	}

	callID := n.task.ID + "_" + uuid.NewString()
	for {
		result, err := n.runner.invoker.Invoke(n.ctx, n.task, n.caller, callID, n.path, input)
		if err == nil {
			return toStarlark(result)
		}

		var pending *apierr.ApprovalPendingError
		if errors.As(err, &pending) {
			wait := defaultRetryAfter
			if pending.RetryAfterMs > 0 {
				wait = time.Duration(pending.RetryAfterMs) * time.Millisecond
			}
			n.heartbeat()
			select {
			case <-n.ctx.Done():
				return nil, n.ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		return nil, err
	}
}
