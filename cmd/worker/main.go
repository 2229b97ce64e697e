// Worker executable for the coordinator.
//
// Runs a Temporal worker hosting TaskWorkflow and CodePurgeWorkflow plus
// every activity they invoke (spec §4.F). Maps to the teacher's
// cmd/worker/main.go process shape: Dial, build dependencies,
// RegisterWorkflow, RegisterActivity, Run(worker.InterruptCh()).
package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/worker"

	"github.com/runlayer/coordinator/internal/config"
	"github.com/runlayer/coordinator/internal/coordinatorapp"
	"github.com/runlayer/coordinator/internal/logging"
	"github.com/runlayer/coordinator/internal/runtime"
	"github.com/runlayer/coordinator/internal/tasks"
)

func main() {
	logging.Init("coordinator-worker", "prod")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	app, err := coordinatorapp.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer app.Close()

	inProcess := tasks.NewInProcessRunner(app.Mediator)
	remote := runtime.NewRemoteDispatcher(cfg.RemoteRuntimeWorkerURL, cfg.Issuer, cfg.ExecutorInternalToken)
	acts := tasks.NewActivities(app.Store, inProcess, remote)

	w := worker.New(app.Temporal, cfg.TaskQueue, worker.Options{})

	w.RegisterWorkflow(tasks.TaskWorkflow)
	w.RegisterWorkflow(tasks.CodePurgeWorkflow)

	w.RegisterActivity(acts.MarkTaskRunning)
	w.RegisterActivity(acts.RunInProcess)
	w.RegisterActivity(acts.DispatchRemoteRun)
	w.RegisterActivity(acts.PurgeExpiredAuthorizationCodes)
	w.RegisterActivity(acts.RecordTerminal)

	log.Info().Str("task_queue", cfg.TaskQueue).Msg("starting worker")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
