package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
)

const authorizationCodeTTL = 120 * time.Second

// handleAuthorize implements spec §4.I step 4: response_type=code, PKCE
// S256, a resource param identifying an anonymous session, and the
// pending-code cap with lazy purge.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableAnonymous {
		writeOAuthError(w, http.StatusNotImplemented, "server_error", "anonymous oauth is disabled")
		return
	}
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "response_type must be code")
		return
	}
	challenge := q.Get("code_challenge")
	if challenge == "" || q.Get("code_challenge_method") != "S256" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "PKCE S256 code_challenge is required")
		return
	}

	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	var client *models.OAuthClient
	err := s.store.Query(r.Context(), "", func(ctx context.Context, qc *store.QueryContext) error {
		c, err := qc.GetOAuthClient(ctx, clientID)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !containsURI(client.RedirectURIs, redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not registered for this client")
		return
	}

	workspaceID, sessionID, err := parseAnonymousResource(q.Get("resource"))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_target", err.Error())
		return
	}
	var session *models.AnonymousSession
	err = s.store.Query(r.Context(), workspaceID, func(ctx context.Context, qc *store.QueryContext) error {
		sess, err := qc.GetAnonymousSession(ctx, sessionID)
		if err != nil {
			return err
		}
		session = sess
		return nil
	})
	if errors.Is(err, store.ErrNotFound) || (session != nil && session.WorkspaceID != workspaceID) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_target", "resource does not identify a known anonymous session")
		return
	}
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if err := s.admitNewCode(r.Context()); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "temporarily_unavailable", err.Error())
		return
	}

	now := time.Now()
	code := &models.AuthorizationCode{
		Code:                uuid.NewString(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		ActorID:             session.ActorID,
		TokenClaims: map[string]any{
			"workspace_id": workspaceID,
			"session_id":   sessionID,
		},
		ExpiresAt: now.Add(authorizationCodeTTL).UnixMilli(),
		CreatedAt: now.UnixMilli(),
	}
	if err := s.store.Mutate(r.Context(), workspaceID, func(ctx context.Context, mc *store.MutationContext) error {
		return mc.InsertAuthorizationCode(ctx, code)
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	redirect, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri failed to parse")
		return
	}
	values := redirect.Query()
	values.Set("code", code.Code)
	if state := q.Get("state"); state != "" {
		values.Set("state", state)
	}
	redirect.RawQuery = values.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// admitNewCode implements the pending-code cap of spec §4.I step 4: purge
// expired codes and re-check before rejecting a fresh one.
func (s *Server) admitNewCode(ctx context.Context) error {
	var count int
	err := s.store.Query(ctx, "", func(ctx context.Context, qc *store.QueryContext) error {
		n, err := qc.CountAuthorizationCodes(ctx)
		count = n
		return err
	})
	if err != nil {
		return err
	}
	if count < s.cfg.MaxPendingCodes {
		return nil
	}

	if err := s.store.Mutate(ctx, "", func(ctx context.Context, mc *store.MutationContext) error {
		_, err := mc.PurgeExpiredAuthorizationCodes(ctx, time.Now().UnixMilli())
		return err
	}); err != nil {
		return err
	}

	err = s.store.Query(ctx, "", func(ctx context.Context, qc *store.QueryContext) error {
		n, err := qc.CountAuthorizationCodes(ctx)
		count = n
		return err
	})
	if err != nil {
		return err
	}
	if count >= s.cfg.MaxPendingCodes {
		return errors.New("too many pending authorization codes")
	}
	return nil
}

// parseAnonymousResource extracts workspaceId/sessionId from the resource
// URL's query string, per spec §4.I step 4 "a resource param whose URL's
// workspaceId and sessionId identify an anonymous session".
func parseAnonymousResource(resource string) (workspaceID, sessionID string, err error) {
	if resource == "" {
		return "", "", errors.New("resource param is required")
	}
	u, err := url.Parse(resource)
	if err != nil {
		return "", "", errors.New("resource must be a valid URL")
	}
	workspaceID = u.Query().Get("workspaceId")
	sessionID = u.Query().Get("sessionId")
	if workspaceID == "" || sessionID == "" {
		return "", "", errors.New("resource must carry workspaceId and sessionId")
	}
	return workspaceID, sessionID, nil
}

func containsURI(uris []string, target string) bool {
	for _, u := range uris {
		if u == target {
			return true
		}
	}
	return false
}
