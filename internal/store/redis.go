package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stumn/Chatment-sub001/internal/models"
)

const (
	presenceTTL = 5 * time.Minute
	changeTTL   = models.ChangeHold + models.ChangeFade
)

// RedisStore handles Redis operations for presence, change-highlight caching
// and rate limiting. All of it is advisory hot state; the authoritative row
// state lives with the session coordinator and the DataStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the
// connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// presenceKey returns the key for a space's member set.
func presenceKey(spaceID int64) string {
	return fmt.Sprintf("space:%d:present", spaceID)
}

// changesKey returns the key for a space's change-highlight hash.
func changesKey(spaceID int64) string {
	return fmt.Sprintf("space:%d:changes", spaceID)
}

// rateLimitKey returns the key for an actor's mutation counter.
func rateLimitKey(actorID string) string {
	return fmt.Sprintf("ratelimit:%s", actorID)
}

// Join adds an actor to a space's presence set.
func (s *RedisStore) Join(ctx context.Context, spaceID int64, actorID string) error {
	key := presenceKey(spaceID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, actorID)
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave removes an actor from a space's presence set.
func (s *RedisStore) Leave(ctx context.Context, spaceID int64, actorID string) error {
	return s.client.SRem(ctx, presenceKey(spaceID), actorID).Err()
}

// Present returns the actor ids currently in a space.
func (s *RedisStore) Present(ctx context.Context, spaceID int64) ([]string, error) {
	return s.client.SMembers(ctx, presenceKey(spaceID)).Result()
}

// CacheChange stores a change highlight so a replica joining through another
// node can replay it. Best-effort: losing it only loses a transient highlight.
func (s *RedisStore) CacheChange(ctx context.Context, spaceID int64, rec models.ChangeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := changesKey(spaceID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, rec.RowID, data)
	pipe.Expire(ctx, key, changeTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// DropChange removes a row's cached highlight.
func (s *RedisStore) DropChange(ctx context.Context, spaceID int64, rowID string) error {
	return s.client.HDel(ctx, changesKey(spaceID), rowID).Err()
}

// RecentChanges returns the still-live cached highlights for a space.
func (s *RedisStore) RecentChanges(ctx context.Context, spaceID int64, now time.Time) ([]models.ChangeRecord, error) {
	vals, err := s.client.HGetAll(ctx, changesKey(spaceID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.ChangeRecord, 0, len(vals))
	for _, data := range vals {
		var rec models.ChangeRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		if now.Before(rec.ExpiresAt) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CheckRateLimit checks if an actor has exceeded the mutation rate limit.
func (s *RedisStore) CheckRateLimit(ctx context.Context, actorID string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(actorID)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit increments the mutation counter.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, actorID string, window time.Duration) error {
	key := rateLimitKey(actorID)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}
