package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runlayer/coordinator/internal/models"
	"github.com/runlayer/coordinator/internal/store"
)

type registerRequest struct {
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

type registerResponse struct {
	ClientID        string   `json:"client_id"`
	ClientName      string   `json:"client_name,omitempty"`
	RedirectURIs    []string `json:"redirect_uris"`
	ClientIDIssued  int64    `json:"client_id_issued_at"`
}

// handleRegister implements spec §4.I step 3: RFC 7591 dynamic registration.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableAnonymous {
		writeOAuthError(w, http.StatusNotImplemented, "server_error", "anonymous oauth is disabled")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed JSON body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris must be a non-empty array")
		return
	}
	for _, raw := range req.RedirectURIs {
		if _, err := url.Parse(raw); err != nil || raw == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris must be parseable URIs")
			return
		}
	}

	now := time.Now()
	client := &models.OAuthClient{
		ClientID:     "anon_client_" + uuid.NewString(),
		ClientName:   strings.TrimSpace(req.ClientName),
		RedirectURIs: req.RedirectURIs,
		CreatedAt:    now.UnixMilli(),
	}

	if err := s.store.Mutate(r.Context(), "", func(ctx context.Context, mc *store.MutationContext) error {
		return mc.InsertOAuthClient(ctx, client)
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "registration failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID:       client.ClientID,
		ClientName:     client.ClientName,
		RedirectURIs:   client.RedirectURIs,
		ClientIDIssued: now.Unix(),
	})
}
