package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stumn/Chatment-sub001/internal/api/middleware"
	"github.com/stumn/Chatment-sub001/internal/models"
)

// Room name validation: alphanumeric, hyphens, underscores, 1-50 chars
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// CreateSpaceRequest represents the space creation request.
type CreateSpaceRequest struct {
	Title     string   `json:"title"`
	Mode      string   `json:"mode,omitempty"`  // "single" (default) or "multi"
	Rooms     []string `json:"rooms,omitempty"` // multi mode only
	IsPrivate bool     `json:"is_private"`
	Key       string   `json:"key,omitempty"` // Shared secret for private spaces
}

// CreateSpaceResponse represents the space creation response.
type CreateSpaceResponse struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Mode        string   `json:"mode"`
	Rooms       []string `json:"rooms"`
	DefaultRoom string   `json:"default_room"`
	IsPrivate   bool     `json:"is_private"`
}

// SpaceInfo represents a space in list responses.
type SpaceInfo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	IsPrivate bool   `json:"is_private"`
	CreatedAt string `json:"created_at"`
}

// ListSpacesResponse represents the space list response.
type ListSpacesResponse struct {
	Spaces  []SpaceInfo `json:"spaces"`
	Total   int         `json:"total"`
	HasMore bool        `json:"has_more"`
}

// CreateSpace handles space creation.
func (h *Handler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	var req CreateSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Title = sanitizeTitle(req.Title)
	if req.Title == "" {
		h.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	mode := models.SpaceMode(req.Mode)
	if req.Mode == "" {
		mode = models.SpaceModeSingle
	}
	if mode != models.SpaceModeSingle && mode != models.SpaceModeMulti {
		h.Error(w, http.StatusBadRequest, "mode must be single or multi")
		return
	}

	rooms := []string{models.DefaultRoomName}
	if mode == models.SpaceModeMulti && len(req.Rooms) > 0 {
		rooms = req.Rooms
		for _, room := range rooms {
			if !roomNameRegex.MatchString(room) {
				h.Error(w, http.StatusBadRequest, "room names must be 1-50 characters, alphanumeric with hyphens and underscores only")
				return
			}
		}
	}

	var keyHash string
	if req.IsPrivate {
		if len(req.Key) < 8 {
			h.Error(w, http.StatusBadRequest, "private spaces require key (min 8 chars)")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Key), bcrypt.DefaultCost)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash space key")
			return
		}
		keyHash = string(hash)
	}

	identity := middleware.IdentityFromContext(r.Context())
	space, err := h.db.CreateSpace(r.Context(), req.Title, mode, rooms, keyHash, identity.ActorID)
	if err != nil {
		h.logger.Error().Err(err).Msg("space creation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create space")
		return
	}

	h.JSON(w, http.StatusCreated, CreateSpaceResponse{
		ID:          space.ID,
		Title:       space.Title,
		Mode:        string(space.Mode),
		Rooms:       space.Rooms,
		DefaultRoom: space.DefaultRoom,
		IsPrivate:   space.IsPrivate,
	})
}

// ListSpaces handles the space list endpoint.
func (h *Handler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	spaces, total, err := h.db.ListSpaces(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("space list failed")
		h.Error(w, http.StatusInternalServerError, "failed to list spaces")
		return
	}

	resp := ListSpacesResponse{
		Spaces:  make([]SpaceInfo, 0, len(spaces)),
		Total:   total,
		HasMore: offset+len(spaces) < total,
	}
	for _, sp := range spaces {
		resp.Spaces = append(resp.Spaces, SpaceInfo{
			ID:        sp.ID,
			Title:     sp.Title,
			Mode:      string(sp.Mode),
			State:     string(sp.State),
			IsPrivate: sp.IsPrivate,
			CreatedAt: sp.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	h.JSON(w, http.StatusOK, resp)
}

// FinishSpace closes a space permanently. Attached sessions are disconnected
// and further joins are rejected; the rows stay readable through history.
func (h *Handler) FinishSpace(w http.ResponseWriter, r *http.Request) {
	id, ok := spaceID(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid space id")
		return
	}

	space, err := h.db.GetSpace(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load space")
		return
	}
	if space == nil {
		h.Error(w, http.StatusNotFound, "space not found")
		return
	}
	if space.State == models.SpaceStateFinished {
		h.JSON(w, http.StatusOK, map[string]string{"state": string(models.SpaceStateFinished)})
		return
	}

	if err := h.db.FinishSpace(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Int64("space", id).Msg("space finish failed")
		h.Error(w, http.StatusInternalServerError, "failed to finish space")
		return
	}
	h.hub.Finish(id)

	h.JSON(w, http.StatusOK, map[string]string{"state": string(models.SpaceStateFinished)})
}

// History returns the full snapshot of a space: ordered rows, live locks and
// live change highlights. Works for finished spaces too, served straight from
// the store.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := spaceID(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid space id")
		return
	}

	coord, err := h.hub.Get(r.Context(), id)
	if err == nil {
		snap, err := coord.History(r.Context())
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to read history")
			return
		}
		h.JSON(w, http.StatusOK, snap)
		return
	}

	// Finished space: no coordinator, rows come from the store directly.
	space, gerr := h.db.GetSpace(r.Context(), id)
	if gerr != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load space")
		return
	}
	if space == nil {
		h.Error(w, http.StatusNotFound, "space not found")
		return
	}
	rows, err := h.db.LoadRows(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"space_id": id,
		"state":    string(space.State),
		"rows":     rows,
	})
}

// Presence returns who is currently connected to a space.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	id, ok := spaceID(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid space id")
		return
	}
	if h.redis == nil {
		h.JSON(w, http.StatusOK, map[string]any{"space_id": id, "actors": []string{}})
		return
	}

	actors, err := h.redis.Present(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to read presence")
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"space_id": id, "actors": actors})
}
