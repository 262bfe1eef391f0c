// Package admin exposes a read-only HTTP status API over the notifier:
// which realms are tracked, which have undelivered notifications, and a
// health probe.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/notifier"
)

// StatusSource is the slice of the notifier the API reads
type StatusSource interface {
	Tracked() []notifier.TrackedRealm
	HasPending() bool
}

// Handlers serves the status endpoints
type Handlers struct {
	source StatusSource
}

func NewHandlers(source StatusSource) *Handlers {
	return &Handlers{source: source}
}

// Router builds the chi router for the status API.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Get("/realms", h.handleRealms)
	r.Get("/realms/{listenID}", h.handleRealm)
	r.Get("/pending", h.handlePending)
	return r
}

// Serve starts the API server on addr. Blocks until the listener fails.
func Serve(addr string, source StatusSource) error {
	h := NewHandlers(source)
	log.Info().Str("address", addr).Msg("Status API enabled")
	return http.ListenAndServe(addr, h.Router())
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (h *Handlers) handleRealms(w http.ResponseWriter, r *http.Request) {
	tracked := h.source.Tracked()
	if tracked == nil {
		tracked = []notifier.TrackedRealm{}
	}
	writeJSON(w, tracked)
}

func (h *Handlers) handleRealm(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "listenID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid listen id %q", raw))
		return
	}

	for _, realm := range h.source.Tracked() {
		if realm.ListenID == notifier.ListenID(id) {
			writeJSON(w, realm)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown listen id %d", id))
}

func (h *Handlers) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := []notifier.TrackedRealm{}
	for _, realm := range h.source.Tracked() {
		if realm.Pending {
			pending = append(pending, realm)
		}
	}
	writeJSON(w, map[string]interface{}{
		"has_pending": h.source.HasPending(),
		"realms":      pending,
	})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
