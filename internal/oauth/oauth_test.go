package oauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *signingKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signingKey{id: "anon_key_test0001", private: priv, public: &priv.PublicKey}
}

func TestPKCE_RoundTrip(t *testing.T) {
	verifier := "a-fixed-test-verifier-value-1234567890"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.True(t, verifyPKCE(challenge, verifier))
	assert.False(t, verifyPKCE(challenge, "wrong-verifier"))
}

func TestMintAndVerifyToken_RoundTrip(t *testing.T) {
	key := testKey(t)
	issuer := "https://coordinator.example.com"

	token, err := mintToken(key, issuer, "actor_1", map[string]any{
		"workspace_id": "ws_1",
		"session_id":   "sess_1",
		"exp":          "attempted-shadow",
	}, time.Hour)
	require.NoError(t, err)

	claims, err := verifyToken(key, issuer, token)
	require.NoError(t, err)
	assert.Equal(t, "actor_1", claims["sub"])
	assert.Equal(t, "ws_1", claims["workspace_id"])
	assert.Equal(t, "sess_1", claims["session_id"])
	assert.Equal(t, "anonymous", claims["provider"])
	assert.NotEqual(t, "attempted-shadow", claims["exp"])
}

func TestVerifyToken_WrongIssuerRejected(t *testing.T) {
	key := testKey(t)
	token, err := mintToken(key, "https://issuer-a.example.com", "actor_1", nil, time.Hour)
	require.NoError(t, err)

	_, err = verifyToken(key, "https://issuer-b.example.com", token)
	assert.Error(t, err)
}

func TestParseAnonymousResource(t *testing.T) {
	ws, sess, err := parseAnonymousResource("https://host/mcp/anonymous?workspaceId=ws_1&sessionId=sess_1")
	require.NoError(t, err)
	assert.Equal(t, "ws_1", ws)
	assert.Equal(t, "sess_1", sess)

	_, _, err = parseAnonymousResource("")
	assert.Error(t, err)

	_, _, err = parseAnonymousResource("https://host/mcp?workspaceId=ws_1")
	assert.Error(t, err)
}

func TestHandleProtectedResourceMetadata_AnonymousSelfReferential(t *testing.T) {
	s := &Server{cfg: Config{Issuer: "https://coordinator.example.com", EnableAnonymous: true}}
	req := httptest.NewRequest("GET", "/.well-known/oauth-protected-resource?resource=https://coordinator.example.com/mcp/anonymous", nil)
	rec := httptest.NewRecorder()

	s.handleProtectedResourceMetadata(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"https://coordinator.example.com"`)
}

func TestHandleAuthorizationServerMetadata_SelfMetadataWhenAnonymousEnabled(t *testing.T) {
	s := &Server{cfg: Config{Issuer: "https://coordinator.example.com", EnableAnonymous: true}.withDefaults()}
	req := httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()

	s.handleAuthorizationServerMetadata(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"issuer":"https://coordinator.example.com"`)
	assert.Contains(t, body, `"token_endpoint_auth_methods_supported":["none"]`)
}

func TestHandleJWKS_ServesLocalPublicKey(t *testing.T) {
	s := &Server{cfg: Config{EnableAnonymous: true}, key: testKey(t)}
	req := httptest.NewRequest("GET", "/oauth2/jwks", nil)
	rec := httptest.NewRecorder()

	s.handleJWKS(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kid":"anon_key_test0001"`)
}

func TestHandleJWKS_DisabledReturnsNotFound(t *testing.T) {
	s := &Server{cfg: Config{EnableAnonymous: false}}
	req := httptest.NewRequest("GET", "/oauth2/jwks", nil)
	rec := httptest.NewRecorder()

	s.handleJWKS(rec, req)

	assert.Equal(t, 404, rec.Code)
}
