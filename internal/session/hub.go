package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stumn/Chatment-sub001/internal/metrics"
	"github.com/stumn/Chatment-sub001/internal/store"
)

// ErrSpaceUnavailable means the space does not exist or is finished.
var ErrSpaceUnavailable = errors.New("space not found or finished")

// Hub owns one coordinator per active space. Coordinators are created lazily
// on first attach, rehydrated from the persistence store. Spaces run
// independently and in parallel; only requests within a space serialize.
type Hub struct {
	mu     sync.Mutex
	coords map[int64]*Coordinator

	db     store.DataStore
	cache  *store.RedisStore
	lease  time.Duration
	logger zerolog.Logger
}

// NewHub creates an empty Hub. cache may be nil.
func NewHub(db store.DataStore, cache *store.RedisStore, lease time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		coords: make(map[int64]*Coordinator),
		db:     db,
		cache:  cache,
		lease:  lease,
		logger: logger,
	}
}

// Get returns the coordinator for an active space, starting one if needed.
func (h *Hub) Get(ctx context.Context, spaceID int64) (*Coordinator, error) {
	h.mu.Lock()
	if c, ok := h.coords[spaceID]; ok {
		h.mu.Unlock()
		return c, nil
	}
	h.mu.Unlock()

	// Load outside the lock; a concurrent first attach may race, so
	// re-check before installing.
	active, err := h.db.IsActive(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrSpaceUnavailable
	}
	space, err := h.db.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if space == nil {
		return nil, ErrSpaceUnavailable
	}
	rows, err := h.db.LoadRows(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.coords[spaceID]; ok {
		return c, nil
	}
	c := NewCoordinator(space, rows, h.db, h.cache, h.lease, h.logger)
	h.coords[spaceID] = c
	metrics.SpacesActive.Set(float64(len(h.coords)))
	h.logger.Info().Int64("space", spaceID).Int("rows", len(rows)).Msg("space coordinator started")
	return c, nil
}

// Finish stops the coordinator for a space that was just finished, so new
// attaches see the closed state from the store.
func (h *Hub) Finish(spaceID int64) {
	h.mu.Lock()
	c, ok := h.coords[spaceID]
	if ok {
		delete(h.coords, spaceID)
	}
	metrics.SpacesActive.Set(float64(len(h.coords)))
	h.mu.Unlock()

	if ok {
		c.Stop()
		h.logger.Info().Int64("space", spaceID).Msg("space coordinator stopped")
	}
}

// Shutdown stops every coordinator.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	coords := make([]*Coordinator, 0, len(h.coords))
	for _, c := range h.coords {
		coords = append(coords, c)
	}
	h.coords = make(map[int64]*Coordinator)
	metrics.SpacesActive.Set(0)
	h.mu.Unlock()

	for _, c := range coords {
		c.Stop()
	}
}
