package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stumn/Chatment-sub001/internal/session"
	"github.com/stumn/Chatment-sub001/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     store.DataStore
	redis  *store.RedisStore
	hub    *session.Hub
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and space hub.
// redis may be nil.
func NewHandler(db store.DataStore, redis *store.RedisStore, hub *session.Hub, logger zerolog.Logger) *Handler {
	return &Handler{db: db, redis: redis, hub: hub, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// spaceID parses the {id} URL parameter.
func spaceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// sanitizeTitle trims and limits a title to 100 characters, removing control
// characters.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)

	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)

	if len(title) > 100 {
		title = title[:100]
	}

	return title
}
