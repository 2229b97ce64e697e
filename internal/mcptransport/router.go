package mcptransport

import (
	"github.com/go-chi/chi/v5"
)

// Mount implements spec §6.1: "/mcp" (and "/mcp/anonymous" for anonymous
// sessions) accepting POST/GET/DELETE MCP streamable-HTTP framing, plus the
// supplemented declarations blob endpoint, registered directly onto the
// caller's router.
func (t *Transport) Mount(r chi.Router) {
	handler := t.Handler()
	r.Handle("/mcp", handler)
	r.Handle("/mcp/anonymous", handler)
	r.Get("/declarations/{hash}", t.handleDeclarations)
}
