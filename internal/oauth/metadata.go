package oauth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

var errNoLocalKey = errors.New("anonymous oauth is disabled; no local signing key")

// handleProtectedResourceMetadata implements spec §4.I step 1 (RFC 9728).
// Which authorization server is advertised depends on which session the
// caller is asking about: a query naming an anonymous resource (the
// "/mcp/anonymous" mount, or any resource when no upstream is configured)
// gets this server as its own authorization server; anything else gets the
// configured upstream.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	authServers := []string{s.cfg.UpstreamAuthorizationServer}
	if s.cfg.EnableAnonymous && (s.cfg.UpstreamAuthorizationServer == "" || strings.Contains(resource, "/mcp/anonymous")) {
		authServers = []string{s.cfg.Issuer}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 resource,
		"authorization_servers":    authServers,
		"bearer_methods_supported": []string{"header"},
	})
}

// handleAuthorizationServerMetadata implements spec §4.I step 2 (RFC 8414).
func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableAnonymous {
		s.proxyUpstreamMetadata(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.cfg.Issuer,
		"authorization_endpoint":                s.cfg.Issuer + "/authorize",
		"token_endpoint":                        s.cfg.Issuer + "/token",
		"registration_endpoint":                 s.cfg.Issuer + "/register",
		"jwks_uri":                              s.cfg.Issuer + "/oauth2/jwks",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (s *Server) proxyUpstreamMetadata(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpstreamAuthorizationServer == "" {
		writeOAuthError(w, http.StatusNotImplemented, "server_error", "no upstream authorization server configured")
		return
	}
	resp, err := s.cfg.HTTPClient.Get(s.cfg.UpstreamAuthorizationServer + "/.well-known/oauth-authorization-server")
	if err != nil {
		writeOAuthError(w, http.StatusBadGateway, "server_error", "upstream metadata fetch failed: "+err.Error())
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeOAuthError(w, http.StatusBadGateway, "server_error", "upstream metadata read failed: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// handleJWKS serves the local key's public JWK Set (spec §4.I step 6).
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if s.key == nil {
		writeOAuthError(w, http.StatusNotFound, "server_error", errNoLocalKey.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": []map[string]any{s.key.jwk()}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeOAuthError renders the {error, error_description?} body spec §6.2
// requires for every OAuth error response.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}
