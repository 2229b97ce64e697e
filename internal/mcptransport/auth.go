// Package mcptransport implements the MCP-over-HTTP surface (spec §4.H,
// §6.1): one streamable-HTTP endpoint per MCP session, backed by the
// workspace tool inventory and the invocation mediator, plus the
// supplemented declarations-blob endpoint of SPEC_FULL.md §11.
//
// Maps to: Aureuma-si/tools/credentials-mcp/main.go's mcp.NewServer /
// mcp.AddTool / mcp.NewStreamableHTTPHandler construction, generalized from
// a fixed tool set to one compiled per-request from the caller's workspace
// and policy scope.
package mcptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/runlayer/coordinator/internal/apierr"
)

// AuthContext is the resolved caller identity and workspace scope for one
// MCP request (spec §4.H).
type AuthContext struct {
	WorkspaceID string
	SessionID   string
	ActorID     string
	ClientID    string
}

type authCtxKey struct{}

func withAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey{}, auth)
}

func authFromContext(ctx context.Context) AuthContext {
	auth, _ := ctx.Value(authCtxKey{}).(AuthContext)
	return auth
}

// AnonymousVerifier validates the bearer JWTs this coordinator mints itself.
// Implemented by *oauth.Server.
type AnonymousVerifier interface {
	VerifyToken(token string) (map[string]any, error)
}

// Authenticator implements spec §4.H's three accepted auth modes (legacy
// anonymous query param, self-issued anonymous JWT, external-OIDC JWT) and
// the token/context mismatch check.
type Authenticator struct {
	anon     AnonymousVerifier
	external *externalVerifier
}

// NewAuthenticator builds an Authenticator. upstreamIssuer may be empty when
// no external authorization server is configured.
func NewAuthenticator(anon AnonymousVerifier, upstreamIssuer string) *Authenticator {
	a := &Authenticator{anon: anon}
	if upstreamIssuer != "" {
		a.external = newExternalVerifier(upstreamIssuer)
	}
	return a
}

// Authenticate resolves the caller's workspace/session/actor scope per spec
// §4.H. A non-nil error is always an *apierr.Error of KindUnauthorized.
func (a *Authenticator) Authenticate(r *http.Request) (AuthContext, error) {
	q := r.URL.Query()
	queryWorkspace := q.Get("workspaceId")
	querySession := q.Get("sessionId")
	queryClient := q.Get("clientId")

	bearer := bearerToken(r)
	if bearer == "" {
		legacyActor := q.Get("actorId")
		if legacyActor == "" {
			return AuthContext{}, apierr.Unauthorized("no bearer token and no legacy actorId query param")
		}
		if queryWorkspace == "" {
			return AuthContext{}, apierr.Unauthorized("workspaceId is required")
		}
		return AuthContext{WorkspaceID: queryWorkspace, SessionID: querySession, ActorID: legacyActor, ClientID: queryClient}, nil
	}

	if a.anon != nil {
		if claims, err := a.anon.VerifyToken(bearer); err == nil {
			return a.resolveAnonymous(claims, queryWorkspace, querySession, queryClient)
		}
	}

	if a.external != nil {
		if sub, err := a.external.verify(bearer); err == nil {
			if queryWorkspace == "" {
				return AuthContext{}, apierr.Unauthorized("workspaceId is required")
			}
			return AuthContext{WorkspaceID: queryWorkspace, SessionID: querySession, ActorID: sub, ClientID: queryClient}, nil
		}
	}

	return AuthContext{}, apierr.Unauthorized("bearer token failed verification")
}

// resolveAnonymous implements spec §4.H's token/context mismatch rule: a
// query workspace/session that disagrees with the token's own
// workspace_id/session_id claims is rejected outright, never silently
// overridden by the query value.
func (a *Authenticator) resolveAnonymous(claims map[string]any, queryWorkspace, querySession, queryClient string) (AuthContext, error) {
	tokenWorkspace, _ := claims["workspace_id"].(string)
	tokenSession, _ := claims["session_id"].(string)
	actorID, _ := claims["sub"].(string)

	if queryWorkspace != "" && tokenWorkspace != "" && queryWorkspace != tokenWorkspace {
		return AuthContext{}, apierr.Unauthorized("token workspace does not match query workspace")
	}
	if querySession != "" && tokenSession != "" && querySession != tokenSession {
		return AuthContext{}, apierr.Unauthorized("token session does not match query session")
	}

	workspaceID := tokenWorkspace
	if workspaceID == "" {
		workspaceID = queryWorkspace
	}
	sessionID := tokenSession
	if sessionID == "" {
		sessionID = querySession
	}
	if workspaceID == "" {
		return AuthContext{}, apierr.Unauthorized("workspaceId is required")
	}
	return AuthContext{WorkspaceID: workspaceID, SessionID: sessionID, ActorID: actorID, ClientID: queryClient}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
