package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlayer/coordinator/internal/models"
)

func TestBuildHeaders(t *testing.T) {
	h := buildHeaders(models.CredentialSpec{AuthType: models.AuthBearer}, "tok123")
	assert.Equal(t, "Bearer tok123", h["Authorization"])

	h = buildHeaders(models.CredentialSpec{AuthType: models.AuthAPIKey}, "key123")
	assert.Equal(t, "key123", h["x-api-key"])

	h = buildHeaders(models.CredentialSpec{AuthType: models.AuthAPIKey, HeaderName: "x-custom"}, "key123")
	assert.Equal(t, "key123", h["x-custom"])

	h = buildHeaders(models.CredentialSpec{AuthType: models.AuthBasic}, "user:pass")
	assert.Equal(t, "Basic dXNlcjpwYXNz", h["Authorization"])
}

func TestStaticSecretValue(t *testing.T) {
	v, err := staticSecretValue(`"plain-value"`)
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)

	v, err = staticSecretValue(`{"value":"nested-value"}`)
	require.NoError(t, err)
	assert.Equal(t, "nested-value", v)

	_, err = staticSecretValue(`not json`)
	assert.Error(t, err)
}

type fakeVault struct {
	attempts   int
	failTimes  int
	value      string
	terminalAt error
}

func (f *fakeVault) FetchSecret(ctx context.Context, objectID string) (string, error) {
	f.attempts++
	if f.terminalAt != nil {
		return "", f.terminalAt
	}
	if f.attempts <= f.failTimes {
		return "", &TransientVaultError{Cause: assertError("not ready")}
	}
	return f.value, nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestFetchFromVaultWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	fv := &fakeVault{failTimes: 2, value: "secret-xyz"}
	r := &Resolver{vault: fv}

	s, err := r.fetchFromVaultWithRetry(context.Background(), "obj-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-xyz", s)
	assert.Equal(t, 3, fv.attempts)
}

func TestFetchFromVaultWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	fv := &fakeVault{terminalAt: assertError("boom")}
	r := &Resolver{vault: fv}

	_, err := r.fetchFromVaultWithRetry(context.Background(), "obj-1")
	assert.Error(t, err)
	assert.Equal(t, 1, fv.attempts)
}

func TestStaticSecretFallback_BuildsBearerHeader(t *testing.T) {
	spec := models.CredentialSpec{
		SourceKey:        "slack",
		Scope:            models.ScopeWorkspace,
		AuthType:         models.AuthBearer,
		StaticSecretJSON: `"fallback-token"`,
	}
	// Resolve needs a Store for the binding lookup, so this exercises the
	// staticSecretValue/buildHeaders steps of its fallback branch directly.
	secret, err := staticSecretValue(spec.StaticSecretJSON)
	require.NoError(t, err)
	headers := buildHeaders(spec, secret)
	assert.Equal(t, "Bearer fallback-token", headers["Authorization"])
}
