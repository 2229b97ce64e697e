package tasks

import (
	"context"

	"github.com/runlayer/coordinator/internal/mediator"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/runtime"
)

// mediatorInvoker adapts *mediator.Mediator to runtime.Invoker. The two
// packages each define their own identically-shaped Caller type rather than
// importing one another (the mediator is called by the runtime, never the
// reverse), so this boundary is where the conversion happens.
type mediatorInvoker struct {
	mediator *mediator.Mediator
}

func (i *mediatorInvoker) Invoke(ctx context.Context, task *models.Task, caller runtime.Caller, callID, toolPath string, input map[string]any) (any, error) {
	return i.mediator.Invoke(ctx, task, mediator.Caller{ActorID: caller.ActorID, ClientID: caller.ClientID}, callID, toolPath, input)
}

// NewInProcessRunner builds the in-process Starlark runner wired to m,
// converting between the mediator's and the runtime's identically-shaped
// but distinct Caller types at every call. cmd/worker uses this instead of
// calling runtime.NewInProcessRunner directly.
func NewInProcessRunner(m *mediator.Mediator) *runtime.InProcessRunner {
	return runtime.NewInProcessRunner(&mediatorInvoker{mediator: m})
}
