// Package httpapi composes every HTTP-facing mount (the MCP transport, the
// anonymous OAuth authorization server, and the internal runtime-callback
// surface) into the single router the coordinator process serves.
//
// Maps to: erauner12-toolbridge-api/internal/httpapi/router.go's
// chi.Router composition style (r.Use middleware stack). Each subsystem's
// Mount method registers its routes directly on the shared router.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runlayer/coordinator/internal/callback"
	"github.com/runlayer/coordinator/internal/mcptransport"
	"github.com/runlayer/coordinator/internal/oauth"
)

// NewRouter wires the three HTTP subsystems behind one *http.Server.
func NewRouter(mcp *mcptransport.Transport, oauthServer *oauth.Server, cb *callback.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	mcp.Mount(r)
	oauthServer.Mount(r)
	cb.Mount(r)

	r.Get("/healthz", handleHealthz)

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
