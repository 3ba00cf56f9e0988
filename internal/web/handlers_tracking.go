package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/stockroom/internal/tracking"
)

// handleSyncShipment registers the shipment's numbers with 17track when
// needed and refreshes its tracking state.
func (s *Server) handleSyncShipment(w http.ResponseWriter, r *http.Request) {
	if s.tracking == nil {
		s.respondError(w, r, tracking.ErrNotConfigured, 0)
		return
	}

	result, err := s.tracking.RegisterAndSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSyncActive refreshes every shipment in transit.
func (s *Server) handleSyncActive(w http.ResponseWriter, r *http.Request) {
	if s.tracking == nil {
		s.respondError(w, r, tracking.ErrNotConfigured, 0)
		return
	}

	stats, err := s.tracking.SyncActive(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
