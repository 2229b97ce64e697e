// Package credential implements the credential resolver (spec §4.C):
// resolving a tool's credential spec to concrete HTTP headers, reading
// either the Store directly (local-convex) or an external vault
// (workos-vault) over HTTP with retry.
package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/runlayer/coordinator/internal/apierr"
	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
)

// VaultClient fetches a secret payload by object id from an external vault
// (WorkOS Vault in production). Transient "not yet ready" errors should be
// returned as *TransientVaultError so Resolve retries them.
type VaultClient interface {
	FetchSecret(ctx context.Context, objectID string) (string, error)
}

// TransientVaultError marks a vault fetch failure as retryable.
type TransientVaultError struct{ Cause error }

func (e *TransientVaultError) Error() string { return fmt.Sprintf("vault not ready: %v", e.Cause) }
func (e *TransientVaultError) Unwrap() error { return e.Cause }

// Resolver resolves CredentialSpecs into HTTP headers.
type Resolver struct {
	store *store.Store
	vault VaultClient
}

// New constructs a Resolver. vault may be nil if no workspace ever uses the
// workos-vault provider.
func New(st *store.Store, vault VaultClient) *Resolver {
	return &Resolver{store: st, vault: vault}
}

// Resolve implements spec §4.C steps 1-4 and returns the HTTP headers to
// merge into the outbound tool-call request.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, actorID string, spec models.CredentialSpec) (map[string]string, error) {
	binding, err := r.lookupBinding(ctx, workspaceID, actorID, spec)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("lookup credential binding: %w", err)
	}

	var secret string
	var headerOverride map[string]string

	switch {
	case binding != nil:
		secret, err = r.resolveSecret(ctx, binding)
		if err != nil {
			return nil, fmt.Errorf("resolve secret: %w", err)
		}
		headerOverride = binding.HeaderOverride
	case spec.StaticSecretJSON != "":
		secret, err = staticSecretValue(spec.StaticSecretJSON)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apierr.CredentialMissing(spec.SourceKey, string(spec.Scope))
	}

	headers := buildHeaders(spec, secret)
	for k, v := range headerOverride {
		headers[k] = v
	}
	if len(headers) == 0 {
		return nil, apierr.CredentialMissing(spec.SourceKey, string(spec.Scope))
	}
	return headers, nil
}

func (r *Resolver) lookupBinding(ctx context.Context, workspaceID, actorID string, spec models.CredentialSpec) (*models.SourceCredential, error) {
	var out *models.SourceCredential
	err := r.store.Query(ctx, workspaceID, func(ctx context.Context, qc *store.QueryContext) error {
		c, err := qc.GetSourceCredential(ctx, workspaceID, spec.SourceKey, spec.Scope, actorID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// resolveSecret dispatches on provider per spec §4.C step 2.
func (r *Resolver) resolveSecret(ctx context.Context, binding *models.SourceCredential) (string, error) {
	switch binding.Provider {
	case models.ProviderLocalConvex:
		return binding.SecretPayload, nil
	case models.ProviderWorkOSVault:
		if r.vault == nil {
			return "", fmt.Errorf("workos-vault provider configured but no vault client wired")
		}
		return r.fetchFromVaultWithRetry(ctx, binding.SecretPayload)
	default:
		return "", fmt.Errorf("unknown credential provider %q", binding.Provider)
	}
}

// fetchFromVaultWithRetry retries transient "not yet ready" vault errors
// with exponential backoff 500ms -> 10s, up to 10 attempts (spec §7).
func (r *Resolver) fetchFromVaultWithRetry(ctx context.Context, objectID string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	// WithMaxRetries counts retries after the first try: 9 retries make 10 attempts.
	withMax := backoff.WithMaxRetries(bo, 9)

	var secret string
	op := func() error {
		s, err := r.vault.FetchSecret(ctx, objectID)
		if err != nil {
			var transient *TransientVaultError
			if isTransientVaultError(err, &transient) {
				return err // retry
			}
			return backoff.Permanent(err)
		}
		secret = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(withMax, ctx)); err != nil {
		return "", err
	}
	return secret, nil
}

func isTransientVaultError(err error, target **TransientVaultError) bool {
	for err != nil {
		if t, ok := err.(*TransientVaultError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// buildHeaders implements spec §4.C step 3.
func buildHeaders(spec models.CredentialSpec, secret string) map[string]string {
	switch spec.AuthType {
	case models.AuthBearer:
		return map[string]string{"Authorization": "Bearer " + secret}
	case models.AuthAPIKey:
		name := spec.HeaderName
		if name == "" {
			name = "x-api-key"
		}
		return map[string]string{name: secret}
	case models.AuthBasic:
		return map[string]string{"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(secret))}
	default:
		return map[string]string{}
	}
}

// staticSecretValue decodes the static fallback secret payload. It is
// expected to be a JSON object with a "value" field, or a bare JSON string.
func staticSecretValue(raw string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s, nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("parse staticSecretJson: %w", err)
	}
	return obj.Value, nil
}
