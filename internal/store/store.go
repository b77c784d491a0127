package store

import (
	"context"

	"github.com/stumn/Chatment-sub001/internal/models"
)

// DataStore is the durable persistence interface consumed by the session
// coordinator and the space lifecycle API. Both PostgresStore and SQLiteStore
// implement it.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Space lifecycle
	CreateSpace(ctx context.Context, title string, mode models.SpaceMode, rooms []string, keyHash, createdBy string) (*models.Space, error)
	GetSpace(ctx context.Context, id int64) (*models.Space, error)
	ListSpaces(ctx context.Context, limit, offset int) ([]models.Space, int, error)
	FinishSpace(ctx context.Context, id int64) error
	IsActive(ctx context.Context, id int64) (bool, error)
	GetSpaceKeyHash(ctx context.Context, id int64) (string, error)

	// Row persistence. SaveRow upserts; SaveRows applies a bulk position
	// reassignment atomically.
	SaveRow(ctx context.Context, row *models.Row) error
	SaveRows(ctx context.Context, rows []*models.Row) error
	DeleteRow(ctx context.Context, rowID string) error
	LoadRows(ctx context.Context, spaceID int64) ([]models.Row, error)
}
