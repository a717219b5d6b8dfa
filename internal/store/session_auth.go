package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/medcode/internal/model"
)

// GetAuthSession returns the stored session, or nil if not found/expired.
func (s *Store) GetAuthSession(ctx context.Context, id string) (*model.AuthSession, error) {
	var (
		sess     model.AuthSession
		userJSON string
		accessAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, access_token, refresh_token, user_json, created_at, expires_at, access_expires_at
		 FROM auth_sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.AccessToken, &sess.RefreshToken, &userJSON, &sess.CreatedAt, &sess.ExpiresAt, &accessAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(ctx, id)
		return nil, nil
	}
	if accessAt.Valid {
		sess.AccessExpiresAt = accessAt.Time
	}
	if userJSON != "" {
		var u model.User
		if err := json.Unmarshal([]byte(userJSON), &u); err != nil {
			return nil, fmt.Errorf("decode session user: %w", err)
		}
		sess.User = &u
	}
	return &sess, nil
}

// PutAuthSession inserts or replaces a session.
func (s *Store) PutAuthSession(ctx context.Context, sess *model.AuthSession) error {
	var userJSON string
	if sess.User != nil {
		b, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("encode session user: %w", err)
		}
		userJSON = string(b)
	}
	var accessAt any
	if !sess.AccessExpiresAt.IsZero() {
		accessAt = sess.AccessExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, access_token, refresh_token, user_json, created_at, expires_at, access_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_json = excluded.user_json,
			expires_at = excluded.expires_at,
			access_expires_at = excluded.access_expires_at`,
		sess.ID, sess.AccessToken, sess.RefreshToken, userJSON, sess.CreatedAt, sess.ExpiresAt, accessAt,
	)
	return err
}

// DeleteAuthSession removes a session.
func (s *Store) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, id)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions and returns how many were dropped.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
