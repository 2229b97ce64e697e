// Package config loads process configuration from the environment.
//
// Maps to: JeffreyRichter-MCP mcpsvc/config/config.go (caarlos0/env struct-tag
// parsing, sync.OnceValue singleton, fail-fast validation).
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
)

// SecretBackend identifies where SourceCredential secret payloads resolve to
// concrete values (spec §6.5 EXECUTOR_SECRET_BACKEND).
type SecretBackend string

const (
	SecretBackendLocalConvex SecretBackend = "local-convex"
	SecretBackendWorkOSVault SecretBackend = "workos-vault"
)

// Config is the full set of recognized process environment options.
type Config struct {
	// Anonymous OAuth (spec §6.5, §4.I)
	EnableAnonymousOAuth bool   `env:"MCP_ENABLE_ANONYMOUS_OAUTH"`
	AuthorizationServer  string `env:"MCP_AUTHORIZATION_SERVER"`
	Issuer               string `env:"MCP_ISSUER" envDefault:"http://localhost:8080"`
	OAuthTokenTTLSeconds int64  `env:"MCP_OAUTH_TOKEN_TTL_SECONDS" envDefault:"86400"`
	MaxPendingCodes      int    `env:"MCP_OAUTH_MAX_PENDING_CODES" envDefault:"10000"`

	// Runtime callback authentication (spec §6.3, §6.5)
	ExecutorInternalToken string `env:"EXECUTOR_INTERNAL_TOKEN,required"`

	// Secret backend selection (spec §6.5)
	ExecutorSecretBackend SecretBackend `env:"EXECUTOR_SECRET_BACKEND"`
	WorkOSVaultBaseURL    string        `env:"WORKOS_VAULT_BASE_URL"`
	WorkOSVaultAPIKey     string        `env:"WORKOS_VAULT_API_KEY"`

	// Store (Postgres)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Inventory caches (Redis)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Temporal
	TemporalHostPort  string `env:"TEMPORAL_HOST_PORT" envDefault:"localhost:7233"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TaskQueue         string `env:"TEMPORAL_TASK_QUEUE" envDefault:"coordinator"`

	// Remote sandbox runtime worker (opaque bind address / URL, spec §6.5)
	RemoteRuntimeWorkerURL string `env:"REMOTE_RUNTIME_WORKER_URL"`
	HTTPBindAddr           string `env:"HTTP_BIND_ADDR" envDefault:":8080"`

	// EnabledRuntimeIDs lists the runtime ids Submit will accept (spec
	// §4.F "Submission": "unrecognized or disabled runtime" is a
	// validation failure). "inprocess" always refers to the Starlark
	// sandbox; any other id names the single configured remote worker.
	EnabledRuntimeIDs []string `env:"COORDINATOR_ENABLED_RUNTIMES" envSeparator:"," envDefault:"inprocess,remote-sandbox"`
}

func (c *Config) validate() error {
	if c.EnableAnonymousOAuth && c.Issuer == "" {
		return errors.New("MCP_ISSUER must be set when MCP_ENABLE_ANONYMOUS_OAUTH=1")
	}
	if !c.EnableAnonymousOAuth && c.AuthorizationServer == "" {
		return errors.New("MCP_AUTHORIZATION_SERVER must be set when anonymous OAuth is disabled")
	}
	if c.ExecutorSecretBackend == "" {
		if c.WorkOSVaultAPIKey != "" {
			c.ExecutorSecretBackend = SecretBackendWorkOSVault
		} else {
			c.ExecutorSecretBackend = SecretBackendLocalConvex
		}
	}
	if c.ExecutorSecretBackend == SecretBackendWorkOSVault && c.WorkOSVaultBaseURL == "" {
		return errors.New("WORKOS_VAULT_BASE_URL must be set when EXECUTOR_SECRET_BACKEND=workos-vault")
	}
	return nil
}

// Load parses the environment once per process and validates it, matching
// the teacher's sync.OnceValue singleton pattern but returning an error
// instead of calling os.Exit, so callers (and tests) can handle it.
var Load = sync.OnceValues(func() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
})
