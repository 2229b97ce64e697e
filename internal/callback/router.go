package callback

import "github.com/go-chi/chi/v5"

// Mount registers spec §6.3's internal runtime-callback surface directly
// onto the caller's router.
func (s *Server) Mount(r chi.Router) {
	r.Post("/internal/tool-call", s.HandleToolCall)
	r.Post("/internal/complete-run", s.HandleCompleteRun)
}
