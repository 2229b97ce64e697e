// Server executable for the coordinator.
//
// Serves the MCP transport, the anonymous OAuth authorization server, and
// the internal runtime-callback surface behind one *http.Server, and starts
// the long-lived CodePurgeWorkflow (spec §4.F "Authorization code purge").
//
// Maps to the teacher's cmd/server process shape, generalized from a single
// agentic-session HTTP API to this coordinator's three HTTP subsystems.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/runlayer/coordinator/internal/callback"
	"github.com/runlayer/coordinator/internal/config"
	"github.com/runlayer/coordinator/internal/coordinatorapp"
	"github.com/runlayer/coordinator/internal/httpapi"
	"github.com/runlayer/coordinator/internal/logging"
	"github.com/runlayer/coordinator/internal/mcptransport"
	"github.com/runlayer/coordinator/internal/oauth"
	"github.com/runlayer/coordinator/internal/tasks"
)

// codePurgeWorkflowID is fixed so starting it is idempotent across server
// restarts: a duplicate start just fails with "workflow execution already
// started", which this process treats as success.
const codePurgeWorkflowID = "coordinator-code-purge"

func main() {
	logging.Init("coordinator-server", "prod")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()

	app, err := coordinatorapp.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer app.Close()

	submitter := tasks.NewSubmitter(app.Store, app.Temporal, cfg.TaskQueue, cfg.EnabledRuntimeIDs)

	oauthServer, err := oauth.NewServer(ctx, app.Store, oauth.Config{
		Issuer:                      cfg.Issuer,
		EnableAnonymous:             cfg.EnableAnonymousOAuth,
		UpstreamAuthorizationServer: cfg.AuthorizationServer,
		TokenTTL:                    time.Duration(cfg.OAuthTokenTTLSeconds) * time.Second,
		MaxPendingCodes:             cfg.MaxPendingCodes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build oauth server")
	}

	authenticator := mcptransport.NewAuthenticator(oauthServer, cfg.AuthorizationServer)
	transport := mcptransport.NewTransport(app.Inv, app.Mediator, submitter, app.Cache, app.Store, authenticator, cfg.Issuer)

	cb := callback.NewServer(app.Store, app.Mediator, app.Temporal, cfg.ExecutorInternalToken)

	router := httpapi.NewRouter(transport, oauthServer, cb)

	if err := startCodePurgeWorkflow(ctx, app.Temporal, cfg.TaskQueue); err != nil {
		log.Fatal().Err(err).Msg("start code purge workflow")
	}

	srv := &http.Server{
		Addr:    cfg.HTTPBindAddr,
		Handler: router,
	}

	log.Info().Str("addr", cfg.HTTPBindAddr).Msg("starting http server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

func startCodePurgeWorkflow(ctx context.Context, temporalClient client.Client, taskQueue string) error {
	_, err := temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    codePurgeWorkflowID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, tasks.CodePurgeWorkflow, tasks.CodePurgeWorkflowState{})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			log.Info().Msg("code purge workflow already running")
			return nil
		}
		return err
	}
	return nil
}
