package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/runlayer/coordinator/internal/store"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleToken implements spec §4.I step 5: atomic code consumption, PKCE
// verification, and RS256 token minting.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableAnonymous {
		writeOAuthError(w, http.StatusNotImplemented, "server_error", "anonymous oauth is disabled")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code")
		return
	}

	code := r.PostForm.Get("code")
	clientID := r.PostForm.Get("client_id")
	redirectURI := r.PostForm.Get("redirect_uri")
	verifier := r.PostForm.Get("code_verifier")

	record, err := s.consumeCode(r.Context(), code)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if record == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code is unknown, expired, or already used")
		return
	}
	if record.ClientID != clientID || record.RedirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "client_id/redirect_uri do not match the authorization request")
		return
	}
	if record.ExpiresAt < time.Now().UnixMilli() {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code has expired")
		return
	}
	if !verifyPKCE(record.CodeChallenge, verifier) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	token, err := mintToken(s.key, s.cfg.Issuer, record.ActorID, record.TokenClaims, s.cfg.TokenTTL)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "mint token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL.Seconds()),
	})
}

// consumeCode atomically reads and deletes the code (spec §5 "consume is
// atomic"). authorization_codes is a process-wide table like
// oauth_clients/oauth_signing_keys, so it is mutated under the "" workspace
// scope rather than any one task's workspace.
func (s *Server) consumeCode(ctx context.Context, code string) (*authorizationCodeRecord, error) {
	var record *authorizationCodeRecord
	err := s.store.Mutate(ctx, "", func(ctx context.Context, mc *store.MutationContext) error {
		c, err := mc.ConsumeAuthorizationCode(ctx, code)
		if err != nil || c == nil {
			return err
		}
		record = &authorizationCodeRecord{
			ClientID: c.ClientID, RedirectURI: c.RedirectURI,
			CodeChallenge: c.CodeChallenge, ActorID: c.ActorID,
			TokenClaims: c.TokenClaims, ExpiresAt: c.ExpiresAt,
		}
		return nil
	})
	return record, err
}

type authorizationCodeRecord struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	ActorID       string
	TokenClaims   map[string]any
	ExpiresAt     int64
}
