package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-charity/auth-server/internal/otp/domain"
)

// ErrRedisUnavailable wraps transport failures from the Redis store.
var ErrRedisUnavailable = errors.New("otp store redis unavailable")

// deleteIfHashLua deletes the OTP hash only if it still carries the expected code hash.
// KEYS[1] = record key
// ARGV[1] = code hash
var deleteIfHashLua = redis.NewScript(`
local h = redis.call('HGET', KEYS[1], 'code_hash')
if h and h == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisRepository keeps one Redis hash per email that expires with the code.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRepository returns a Redis-backed OTP store. An empty prefix defaults to "otp".
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisRepository{redis: client, prefix: prefix}
}

func (r *RedisRepository) key(email string) string {
	return r.prefix + ":" + strings.ToLower(email)
}

// Replace deletes and rewrites the record in one MULTI/EXEC.
func (r *RedisRepository) Replace(ctx context.Context, rec *domain.Record) error {
	key := r.key(rec.Email)
	_, err := r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"email", rec.Email,
			"code_hash", rec.CodeHash,
			"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
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

// Find returns the record for email, or nil when absent or lapsed.
func (r *RedisRepository) Find(ctx context.Context, email string) (*domain.Record, error) {
	fields, err := r.redis.HGetAll(ctx, r.key(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &domain.Record{Email: fields["email"], CodeHash: fields["code_hash"]}
	if rec.ExpiresAt, err = parseUnixNano(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	if rec.CreatedAt, err = parseUnixNano(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	return rec, nil
}

// Delete removes the record if it still holds codeHash.
func (r *RedisRepository) Delete(ctx context.Context, email, codeHash string) (bool, error) {
	n, err := deleteIfHashLua.Run(ctx, r.redis, []string{r.key(email)}, codeHash).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// DeleteExpired is a no-op: keys expire on their own.
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
