package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stumn/Chatment-sub001/internal/models"
	"github.com/stumn/Chatment-sub001/internal/order"
)

// SQLiteStore handles SQLite database operations, used for single-node and
// development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatment.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatment.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS spaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'single',
		rooms TEXT NOT NULL DEFAULT '[]',
		default_room TEXT NOT NULL DEFAULT 'main',
		state TEXT NOT NULL DEFAULT 'active',
		key_hash TEXT,
		created_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		space_id INTEGER NOT NULL,
		room TEXT NOT NULL,
		author_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		content TEXT NOT NULL,
		pos TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		positive TEXT NOT NULL DEFAULT '[]',
		negative TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (space_id) REFERENCES spaces(id)
	);

	CREATE INDEX IF NOT EXISTS idx_spaces_state ON spaces(state);
	CREATE INDEX IF NOT EXISTS idx_posts_space ON posts(space_id);
	CREATE INDEX IF NOT EXISTS idx_posts_space_room_pos ON posts(space_id, room, pos);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSpace creates a new space in the active state.
func (s *SQLiteStore) CreateSpace(ctx context.Context, title string, mode models.SpaceMode, rooms []string, keyHash, createdBy string) (*models.Space, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (title, mode, rooms, default_room, state, key_hash, created_by, created_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?, ?)
	`, title, string(mode), string(roomsJSON), defaultRoom, keyHashPtr, createdByPtr, time.Now())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetSpace(ctx, id)
}

// GetSpace retrieves a space by ID.
func (s *SQLiteStore) GetSpace(ctx context.Context, id int64) (*models.Space, error) {
	space := &models.Space{}
	var roomsJSON string
	var keyHash, createdBy *string
	var finishedAt *time.Time

	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, mode, rooms, default_room, state, key_hash, created_by, created_at, finished_at
		FROM spaces WHERE id = ?
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(roomsJSON), &space.Rooms); err != nil {
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
func (s *SQLiteStore) ListSpaces(ctx context.Context, limit, offset int) ([]models.Space, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spaces`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM spaces ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	spaces := make([]models.Space, 0, len(ids))
	for _, id := range ids {
		sp, err := s.GetSpace(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if sp != nil {
			spaces = append(spaces, *sp)
		}
	}
	return spaces, total, nil
}

// FinishSpace transitions a space to the finished state.
func (s *SQLiteStore) FinishSpace(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spaces SET state = 'finished', finished_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = 'active'
	`, id)
	return err
}

// IsActive reports whether the space exists and is accepting mutations.
func (s *SQLiteStore) IsActive(ctx context.Context, id int64) (bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM spaces WHERE id = ?`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return state == string(models.SpaceStateActive), nil
}

// GetSpaceKeyHash retrieves the join key hash for a private space.
func (s *SQLiteStore) GetSpaceKeyHash(ctx context.Context, id int64) (string, error) {
	var keyHash *string
	err := s.db.QueryRowContext(ctx, `SELECT key_hash FROM spaces WHERE id = ?`, id).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if keyHash == nil {
		return "", nil
	}
	return *keyHash, nil
}

// SaveRow upserts a single row.
func (s *SQLiteStore) SaveRow(ctx context.Context, row *models.Row) error {
	positive, negative, err := marshalVotes(row)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, space_id, room, author_id, nickname, content, pos, created_at, positive, negative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			pos = excluded.pos,
			room = excluded.room,
			positive = excluded.positive,
			negative = excluded.negative
	`, row.ID, row.SpaceID, row.Room, row.AuthorID, row.Nickname, row.Text, string(row.Position), row.CreatedAt, positive, negative)
	return err
}

// SaveRows upserts a batch in one transaction, used for rebalances.
func (s *SQLiteStore) SaveRows(ctx context.Context, rows []*models.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (id, space_id, room, author_id, nickname, content, pos, created_at, positive, negative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			pos = excluded.pos,
			room = excluded.room,
			positive = excluded.positive,
			negative = excluded.negative
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		positive, negative, err := marshalVotes(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row.ID, row.SpaceID, row.Room, row.AuthorID, row.Nickname, row.Text, string(row.Position), row.CreatedAt, positive, negative); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteRow removes a row permanently.
func (s *SQLiteStore) DeleteRow(ctx context.Context, rowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, rowID)
	return err
}

// LoadRows retrieves all rows of a space ordered by position.
func (s *SQLiteStore) LoadRows(ctx context.Context, spaceID int64) ([]models.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, room, author_id, nickname, content, pos, created_at, positive, negative
		FROM posts WHERE space_id = ? ORDER BY pos, id
	`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var row models.Row
		var pos, positive, negative string
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
		if err := unmarshalVotes(&row, positive, negative); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func marshalVotes(row *models.Row) (positive, negative string, err error) {
	p, err := json.Marshal(emptyIfNil(row.Positive))
	if err != nil {
		return "", "", err
	}
	n, err := json.Marshal(emptyIfNil(row.Negative))
	if err != nil {
		return "", "", err
	}
	return string(p), string(n), nil
}

func unmarshalVotes(row *models.Row, positive, negative string) error {
	if err := json.Unmarshal([]byte(positive), &row.Positive); err != nil {
		return err
	}
	return json.Unmarshal([]byte(negative), &row.Negative)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
