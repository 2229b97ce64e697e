package mcptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleDeclarations serves a previously compiled type-declaration blob by
// its content hash (SPEC_FULL.md §11's supplemented declarations endpoint,
// layer 3 of spec §4.E's cache).
func (t *Transport) handleDeclarations(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if hash == "" {
		http.Error(w, "hash is required", http.StatusBadRequest)
		return
	}
	blob, ok, err := t.cache.GetDeclarations(r.Context(), hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "declarations not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(blob)
}
