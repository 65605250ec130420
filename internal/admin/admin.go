// Package admin exposes a small operator HTTP surface over the relay's
// in-memory state.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/stupiduntilnot/glmrelay/internal/memory"
	"github.com/stupiduntilnot/glmrelay/internal/relay"
)

// Handler serves the admin endpoints.
type Handler struct {
	store *memory.Store
	relay *relay.Relay
	model string
}

// NewHandler creates a Handler reporting the given model name.
func NewHandler(store *memory.Store, r *relay.Relay, model string) *Handler {
	return &Handler{store: store, relay: r, model: model}
}

// NewRouter mounts the admin routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/memory/{userID}", h.Memory)
	r.Delete("/memory/{userID}", h.ResetMemory)
	return r
}

type healthResp struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	Users       int    `json:"users"`
	MemoryLimit int    `json:"memory_limit"`
}

type memoryResp struct {
	UserID      int64 `json:"user_id"`
	Messages    int   `json:"messages"`
	MaxMessages int   `json:"max_messages"`
	MemoryLimit int   `json:"memory_limit"`
}

// Health reports liveness and the model in use.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{
		Status:      "ok",
		Model:       h.model,
		Users:       h.store.Users(),
		MemoryLimit: h.store.Limit(),
	})
}

// Memory reports how many messages are remembered for one user.
func (h *Handler) Memory(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, memoryResp{
		UserID:      userID,
		Messages:    h.store.Count(userID),
		MaxMessages: h.store.MaxMessages(),
		MemoryLimit: h.store.Limit(),
	})
}

// ResetMemory forgets one user's conversation.
func (h *Handler) ResetMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	h.relay.Reset(userID)
	w.WriteHeader(http.StatusNoContent)
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
