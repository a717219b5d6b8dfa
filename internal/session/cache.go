// Package session keeps AuthSessions in a two-tier cache: an in-process map
// for the fast path and a durable backend (SQLite or Redis) that survives
// restarts of the front-end.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/medcode/internal/model"
)

// Backend is the durable tier.
type Backend interface {
	GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error)
	PutAuthSession(ctx context.Context, sess *model.AuthSession) error
	DeleteAuthSession(ctx context.Context, id string) error
}

// Cache implements the two-tier AuthSession store used by the API client.
type Cache struct {
	mu      sync.RWMutex
	mem     map[string]*model.AuthSession
	durable Backend
	ttl     time.Duration
	now     func() time.Time
}

// NewCache returns a cache backed by durable. A nil durable keeps sessions in memory only.
func NewCache(durable Backend, ttl time.Duration) *Cache {
	return &Cache{
		mem:     make(map[string]*model.AuthSession),
		durable: durable,
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewID returns a fresh, unguessable session id.
func NewID() string {
	return uuid.NewString()
}

// Get returns a copy of the session, or nil if it is unknown or expired.
func (c *Cache) Get(ctx context.Context, id string) (*model.AuthSession, error) {
	if id == "" {
		return nil, nil
	}
	c.mu.RLock()
	sess, ok := c.mem[id]
	c.mu.RUnlock()
	if ok {
		if c.now().After(sess.ExpiresAt) {
			return nil, c.Delete(ctx, id)
		}
		return sess.Clone(), nil
	}
	if c.durable == nil {
		return nil, nil
	}

	sess, err := c.durable.GetAuthSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	c.mu.Lock()
	c.mem[id] = sess.Clone()
	c.mu.Unlock()
	return sess, nil
}

// Put stores the session in both tiers, stamping CreatedAt/ExpiresAt when unset.
// A durable write failure is returned but the in-memory copy is kept.
func (c *Cache) Put(ctx context.Context, sess *model.AuthSession) error {
	now := c.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = now.Add(c.ttl)
	}
	c.mu.Lock()
	c.mem[sess.ID] = sess.Clone()
	c.mu.Unlock()
	if c.durable == nil {
		return nil
	}
	if err := c.durable.PutAuthSession(ctx, sess); err != nil {
		slog.Error("failed to persist auth session", "error", err)
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// UpdateTokens rotates the token pair of an existing session. An empty
// refresh token keeps the previous one.
func (c *Cache) UpdateTokens(ctx context.Context, id, access, refresh string, accessExpires time.Time) error {
	sess, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = &model.AuthSession{ID: id}
	}
	sess.AccessToken = access
	sess.AccessExpiresAt = accessExpires
	if refresh != "" {
		sess.RefreshToken = refresh
	}
	return c.Put(ctx, sess)
}

// Delete drops the session from both tiers.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.mem, id)
	c.mu.Unlock()
	if c.durable == nil {
		return nil
	}
	if err := c.durable.DeleteAuthSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Sweep evicts expired sessions from the memory tier and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.mem {
		if now.After(s.ExpiresAt) {
			delete(c.mem, id)
			n++
		}
	}
	return n
}
