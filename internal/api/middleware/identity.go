package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stumn/Chatment-sub001/internal/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

const maxNicknameLen = 40

// Identity resolves the caller's durable actor id and display nickname and
// stores them on the request context. The id comes from the X-Chatment-Actor
// header or the actorId query parameter; a first-time client gets a fresh
// UUID. The nickname is display-only and never used for authorization.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get("X-Chatment-Actor")
		if actorID == "" {
			actorID = r.URL.Query().Get("actorId")
		}
		if _, err := uuid.Parse(actorID); err != nil {
			actorID = uuid.NewString()
		}

		nickname := r.Header.Get("X-Chatment-Nickname")
		if nickname == "" {
			nickname = r.URL.Query().Get("nickname")
		}
		nickname = sanitizeNickname(nickname)
		if nickname == "" {
			nickname = "anonymous"
		}

		id := models.Identity{ActorID: actorID, Nickname: nickname}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext retrieves the resolved identity. The zero value means
// the Identity middleware did not run.
func IdentityFromContext(ctx context.Context) models.Identity {
	id, _ := ctx.Value(identityContextKey).(models.Identity)
	return id
}

func sanitizeNickname(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > maxNicknameLen {
		name = name[:maxNicknameLen]
	}
	// Strip control characters; nicknames are rendered verbatim in clients.
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
