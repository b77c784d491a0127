package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/stumn/Chatment-sub001/internal/api/middleware"
	"github.com/stumn/Chatment-sub001/internal/session"
	"github.com/stumn/Chatment-sub001/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; identity is
	// per-connection and spaces carry their own join keys.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Connect upgrades to a websocket and attaches the session to the space
// coordinator. The first frame the client receives is the history snapshot.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	id, ok := spaceID(r)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid space id")
		return
	}

	// Join-key check happens before the upgrade so rejections are plain HTTP.
	keyHash, err := h.db.GetSpaceKeyHash(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load space")
		return
	}
	if keyHash != "" {
		key := r.Header.Get("X-Chatment-Space-Key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			h.Error(w, http.StatusForbidden, "invalid space key")
			return
		}
	}

	coord, err := h.hub.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSpaceUnavailable) {
			h.Error(w, http.StatusGone, "space not found or finished")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to open space")
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	sessionID := uuid.NewString()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	events, err := coord.Attach(r.Context(), sessionID, identity)
	if err != nil {
		conn.Close()
		return
	}

	if h.redis != nil {
		if err := h.redis.Join(context.Background(), id, identity.ActorID); err != nil {
			h.logger.Debug().Err(err).Msg("presence join failed")
		}
		defer func() {
			if err := h.redis.Leave(context.Background(), id, identity.ActorID); err != nil {
				h.logger.Debug().Err(err).Msg("presence leave failed")
			}
		}()
	}

	h.logger.Info().
		Int64("space", id).
		Str("session", sessionID).
		Str("actor", identity.ActorID).
		Msg("session connected")

	ws.New(sessionID, identity, conn, coord, events, h.logger).Run(r.Context())

	h.logger.Info().
		Int64("space", id).
		Str("session", sessionID).
		Msg("session disconnected")
}
