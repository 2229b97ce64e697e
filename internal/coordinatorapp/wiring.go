// Package coordinatorapp builds the shared dependency graph both cmd/server
// and cmd/worker need: the Store, the inventory's source compilers, the
// credential resolver, and the Mediator, so the two processes can't drift
// out of sync on how a component gets constructed.
package coordinatorapp

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/runlayer/coordinator/internal/config"
	"github.com/runlayer/coordinator/internal/credential"
	"github.com/runlayer/coordinator/internal/inventory"
	"github.com/runlayer/coordinator/internal/mediator"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
	"github.com/runlayer/coordinator/internal/temporalclient"
	"github.com/runlayer/coordinator/internal/toolsource"
	"github.com/runlayer/coordinator/internal/toolsource/graphqlsource"
	"github.com/runlayer/coordinator/internal/toolsource/mcpsource"
	"github.com/runlayer/coordinator/internal/toolsource/openapisource"
)

// App holds the dependencies common to both processes.
type App struct {
	Config   *config.Config
	Store    *store.Store
	Cache    *inventory.Cache
	Inv      *inventory.Inventory
	Mediator *mediator.Mediator
	Temporal client.Client
}

// Build opens the Store and Temporal client, wires the tool-source
// compilers (spec §4.D), the credential resolver (spec §4.C), the
// inventory (spec §4.E) and the mediator (spec §4.G).
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := inventory.NewCache(rdb)

	compilers := map[models.SourceType]toolsource.Compiler{
		models.SourceTypeMCP:     mcpsource.New(),
		models.SourceTypeOpenAPI: openapisource.New(inventory.NewOpenAPISpecCache(cache)),
		models.SourceTypeGraphQL: graphqlsource.New(),
	}
	inv := inventory.New(st, cache, compilers, nil)

	vault := vaultClient(cfg)
	credResolver := credential.New(st, vault)

	med := mediator.New(st, credResolver, inv)

	clientOpts, err := temporalclient.LoadClientOptions(cfg.TemporalHostPort, cfg.TemporalNamespace)
	if err != nil {
		return nil, fmt.Errorf("load temporal client options: %w", err)
	}
	temporalClient, err := client.Dial(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}

	return &App{
		Config:   cfg,
		Store:    st,
		Cache:    cache,
		Inv:      inv,
		Mediator: med,
		Temporal: temporalClient,
	}, nil
}

func (a *App) Close() {
	a.Temporal.Close()
	a.Store.Close()
}

// vaultClient selects the credential backend per spec §6.5
// EXECUTOR_SECRET_BACKEND. local-convex stores secrets directly in the
// Store, so no external VaultClient is needed.
func vaultClient(cfg *config.Config) credential.VaultClient {
	if cfg.ExecutorSecretBackend != config.SecretBackendWorkOSVault {
		return nil
	}
	return credential.NewHTTPVaultClient(cfg.WorkOSVaultBaseURL, cfg.WorkOSVaultAPIKey)
}
