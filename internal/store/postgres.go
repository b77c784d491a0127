package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/order"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS spaces (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'single',
		rooms JSONB NOT NULL DEFAULT '[]',
		default_room TEXT NOT NULL DEFAULT 'main',
		state TEXT NOT NULL DEFAULT 'active',
		key_hash TEXT,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		space_id BIGINT NOT NULL REFERENCES spaces(id),
		room TEXT NOT NULL,
		author_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		content TEXT NOT NULL,
		pos TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		positive JSONB NOT NULL DEFAULT '[]',
		negative JSONB NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_spaces_state ON spaces(state);
	CREATE INDEX IF NOT EXISTS idx_posts_space ON posts(space_id);
	CREATE INDEX IF NOT EXISTS idx_posts_space_room_pos ON posts(space_id, room, pos);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSpace creates a new space in the active state.
func (s *PostgresStore) CreateSpace(ctx context.Context, title string, mode models.SpaceMode, rooms []string, keyHash, createdBy string) (*models.Space, error) {
	if mode == "" {
		mode = models.SpaceModeSingle
	}
	defaultRoom := models.DefaultRoomName
	if mode == models.SpaceModeMulti && len(rooms) > 0 {
		defaultRoom = rooms[0]
	} else {
		rooms = []string{defaultRoom}
	}

	roomsJSON, err := json.Marshal(rooms)
	if err != nil {
		return nil, err
	}

	var keyHashPtr *string
	if keyHash != "" {
		keyHashPtr = &keyHash
	}
	var createdByPtr *string
	if createdBy != "" {
		createdByPtr = &createdBy
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO spaces (title, mode, rooms, default_room, state, key_hash, created_by)
		VALUES ($1, $2, $3, $4, 'active', $5, $6)
		RETURNING id
	`, title, string(mode), roomsJSON, defaultRoom, keyHashPtr, createdByPtr).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetSpace(ctx, id)
}

// GetSpace retrieves a space by ID.
func (s *PostgresStore) GetSpace(ctx context.Context, id int64) (*models.Space, error) {
	space := &models.Space{}
	var roomsJSON []byte
	var keyHash, createdBy *string
	var finishedAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT id, title, mode, rooms, default_room, state, key_hash, created_by, created_at, finished_at
		FROM spaces WHERE id = $1
	`, id).Scan(
		&space.ID,
		&space.Title,
		&space.Mode,
		&roomsJSON,
		&space.DefaultRoom,
		&space.State,
		&keyHash,
		&createdBy,
		&space.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(roomsJSON, &space.Rooms); err != nil {
		return nil, err
	}
	space.IsPrivate = keyHash != nil && *keyHash != ""
	if createdBy != nil {
		space.CreatedBy = *createdBy
	}
	space.FinishedAt = finishedAt
	return space, nil
}

// ListSpaces retrieves spaces with pagination, newest first.
func (s *PostgresStore) ListSpaces(ctx context.Context, limit, offset int) ([]models.Space, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM spaces`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, mode, rooms, default_room, state, key_hash, created_by, created_at, finished_at
		FROM spaces
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var spaces []models.Space
	for rows.Next() {
		var space models.Space
		var roomsJSON []byte
		var keyHash, createdBy *string
		var finishedAt *time.Time

		if err := rows.Scan(
			&space.ID,
			&space.Title,
			&space.Mode,
			&roomsJSON,
			&space.DefaultRoom,
			&space.State,
			&keyHash,
			&createdBy,
			&space.CreatedAt,
			&finishedAt,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(roomsJSON, &space.Rooms); err != nil {
			return nil, 0, err
		}
		space.IsPrivate = keyHash != nil && *keyHash != ""
		if createdBy != nil {
			space.CreatedBy = *createdBy
		}
		space.FinishedAt = finishedAt
		spaces = append(spaces, space)
	}
	return spaces, total, rows.Err()
}

// FinishSpace transitions a space to the finished state.
func (s *PostgresStore) FinishSpace(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE spaces SET state = 'finished', finished_at = NOW()
		WHERE id = $1 AND state = 'active'
	`, id)
	return err
}

// IsActive reports whether the space exists and is accepting mutations.
func (s *PostgresStore) IsActive(ctx context.Context, id int64) (bool, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM spaces WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return state == string(models.SpaceStateActive), nil
}

// GetSpaceKeyHash retrieves the join key hash for a private space.
func (s *PostgresStore) GetSpaceKeyHash(ctx context.Context, id int64) (string, error) {
	var keyHash *string
	err := s.pool.QueryRow(ctx, `SELECT key_hash FROM spaces WHERE id = $1`, id).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if keyHash == nil {
		return "", nil
	}
	return *keyHash, nil
}

const upsertPost = `
	INSERT INTO posts (id, space_id, room, author_id, nickname, content, pos, created_at, positive, negative)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		pos = EXCLUDED.pos,
		room = EXCLUDED.room,
		positive = EXCLUDED.positive,
		negative = EXCLUDED.negative
`

// SaveRow upserts a single row.
func (s *PostgresStore) SaveRow(ctx context.Context, row *models.Row) error {
	positive, negative, err := marshalVotes(row)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertPost,
		row.ID, row.SpaceID, row.Room, row.AuthorID, row.Nickname, row.Text,
		string(row.Position), row.CreatedAt, positive, negative)
	return err
}

// SaveRows upserts a batch in one transaction, used for rebalances.
func (s *PostgresStore) SaveRows(ctx context.Context, rows []*models.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		positive, negative, err := marshalVotes(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertPost,
			row.ID, row.SpaceID, row.Room, row.AuthorID, row.Nickname, row.Text,
			string(row.Position), row.CreatedAt, positive, negative); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteRow removes a row permanently.
func (s *PostgresStore) DeleteRow(ctx context.Context, rowID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, rowID)
	return err
}

// LoadRows retrieves all rows of a space ordered by position.
func (s *PostgresStore) LoadRows(ctx context.Context, spaceID int64) ([]models.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, space_id, room, author_id, nickname, content, pos, created_at, positive, negative
		FROM posts WHERE space_id = $1 ORDER BY pos, id
	`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var row models.Row
		var pos string
		var positive, negative []byte
		if err := rows.Scan(
			&row.ID,
			&row.SpaceID,
			&row.Room,
			&row.AuthorID,
			&row.Nickname,
			&row.Text,
			&pos,
			&row.CreatedAt,
			&positive,
			&negative,
		); err != nil {
			return nil, err
		}
		row.Position = order.Key(pos)
		if err := unmarshalVotes(&row, string(positive), string(negative)); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
