package oauth

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/runlayer/coordinator/internal/store"
)

// Config configures the anonymous authorization server (spec §4.I, §6.5).
type Config struct {
	// Issuer is getIssuer(): the gateway's own origin, used as iss/aud and
	// as the self-metadata's authorization_endpoint/token_endpoint base.
	Issuer string
	// EnableAnonymous gates whether this server mints its own tokens
	// (MCP_ENABLE_ANONYMOUS_OAUTH=1) or only proxies upstream metadata.
	EnableAnonymous bool
	// UpstreamAuthorizationServer is the configured issuer used for
	// non-anonymous sessions (MCP_AUTHORIZATION_SERVER).
	UpstreamAuthorizationServer string
	TokenTTL                    time.Duration
	MaxPendingCodes             int
	HTTPClient                  httpClient
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.MaxPendingCodes <= 0 {
		c.MaxPendingCodes = 10000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaultHTTPClient()
	}
	return c
}

// Server implements spec §4.I's endpoints over the Store.
type Server struct {
	store *store.Store
	cfg   Config
	key   *signingKey // nil unless cfg.EnableAnonymous
}

// NewServer loads or creates the active signing key (when anonymous mode is
// enabled) and returns a Server ready to mount.
func NewServer(ctx context.Context, st *store.Store, cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	s := &Server{store: st, cfg: cfg}
	if cfg.EnableAnonymous {
		key, err := loadOrCreateSigningKey(ctx, st)
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Router mounts spec §6.2's six endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

// Mount registers spec §4.I/§6.2's six OAuth endpoints directly onto the
// caller's router.
func (s *Server) Mount(r chi.Router) {
	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	r.Get("/.well-known/oauth-authorization-server", s.handleAuthorizationServerMetadata)
	r.Post("/register", s.handleRegister)
	r.Get("/authorize", s.handleAuthorize)
	r.Post("/token", s.handleToken)
	r.Get("/oauth2/jwks", s.handleJWKS)
}

// VerifyToken is exported for the MCP transport's auth layer (spec §4.H).
func (s *Server) VerifyToken(token string) (map[string]any, error) {
	if s.key == nil {
		return nil, errNoLocalKey
	}
	claims, err := verifyToken(s.key, s.cfg.Issuer, token)
	if err != nil {
		return nil, err
	}
	return map[string]any(claims), nil
}
