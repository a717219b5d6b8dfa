package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/medcode/internal/model"
)

const keyPrefix = "medcode"

// sessionKey builds "medcode:auth_session:<id>".
func sessionKey(id string) string {
	return strings.Join([]string{keyPrefix, "auth_session", id}, ":")
}

// RedisBackend stores sessions as JSON values expiring with the session.
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

// NewRedisBackend wraps a connected client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, now: time.Now}
}

// GetAuthSession returns nil, nil on a cache miss.
func (b *RedisBackend) GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error) {
	val, err := b.client.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess model.AuthSession
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// PutAuthSession writes the session with a TTL matching its expiry.
func (b *RedisBackend) PutAuthSession(ctx context.Context, sess *model.AuthSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(b.now())
	if ttl <= 0 {
		return b.DeleteAuthSession(ctx, sess.ID)
	}
	return b.client.Set(ctx, sessionKey(sess.ID), string(data), ttl).Err()
}

// DeleteAuthSession removes the key.
func (b *RedisBackend) DeleteAuthSession(ctx context.Context, id string) error {
	return b.client.Del(ctx, sessionKey(id)).Err()
}
