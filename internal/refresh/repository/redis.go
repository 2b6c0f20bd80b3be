package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-charity/auth-server/internal/refresh/domain"
	"github.com/go-charity/auth-server/internal/security"
)

// ErrRedisUnavailable wraps transport failures from the Redis store.
var ErrRedisUnavailable = errors.New("refresh store redis unavailable")

// deleteIfSubjectLua atomically deletes a refresh hash only when it belongs to the subject.
// KEYS[1] = record key
// ARGV[1] = subject id
//
// Returns 1 when the key was removed, 0 otherwise.
var deleteIfSubjectLua = redis.NewScript(`
local subject = redis.call('HGET', KEYS[1], 'subject_id')
if subject and subject == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisRepository stores refresh records as Redis hashes that expire at the record's expires_at.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Redis-backed refresh record store. An empty prefix defaults to "refresh".
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "refresh"
	}
	return &RedisRepository{redis: client, prefix: prefix}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + ":" + security.HashRefreshID(id)
}

// Create writes the record and its expiry in one MULTI/EXEC.
func (r *RedisRepository) Create(ctx context.Context, rec *domain.Record) error {
	key := r.key(rec.ID)
	_, err := r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"subject_id", rec.SubjectID,
			"role", rec.Role,
			"scope", string(rec.Scope),
			"mode", string(rec.Mode),
			"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
			"valid_days", strconv.Itoa(rec.ValidDays),
			"created_at", strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		)
		p.ExpireAt(ctx, key, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Find returns the record for (id, subjectID), or nil if absent, lapsed, or owned by another subject.
func (r *RedisRepository) Find(ctx context.Context, id, subjectID string) (*domain.Record, error) {
	fields, err := r.redis.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 || fields["subject_id"] != subjectID {
		return nil, nil
	}
	rec := &domain.Record{
		ID:        id,
		SubjectID: fields["subject_id"],
		Role:      fields["role"],
		Scope:     security.Scope(fields["scope"]),
		Mode:      security.Mode(fields["mode"]),
	}
	if rec.ExpiresAt, err = parseUnixNano(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if rec.CreatedAt, err = parseUnixNano(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if rec.ValidDays, err = strconv.Atoi(fields["valid_days"]); err != nil {
		return nil, fmt.Errorf("decode valid_days: %w", err)
	}
	return rec, nil
}

// Delete removes the record when it belongs to subjectID.
func (r *RedisRepository) Delete(ctx context.Context, id, subjectID string) (bool, error) {
	n, err := deleteIfSubjectLua.Run(ctx, r.redis, []string{r.key(id)}, subjectID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// DeleteExpired is a no-op: Redis evicts records at expires_at on its own.
func (r *RedisRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func parseUnixNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
