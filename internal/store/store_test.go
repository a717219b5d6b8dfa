package store

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/medcode/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string, ttl time.Duration) *model.AuthSession {
	now := time.Now()
	return &model.AuthSession{
		ID:           id,
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		User: &model.User{
			ID:    "u1",
			Name:  "Dana Coder",
			Email: "dana@example.com",
			Role:  model.UserRoleStudent,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing session returns nil without error.
	got, err := s.GetAuthSession(ctx, "nope")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}

	sess := testSession("s1", time.Hour)
	if err := s.PutAuthSession(ctx, sess); err != nil {
		t.Fatalf("PutAuthSession: %v", err)
	}

	got, err = s.GetAuthSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.AccessToken != "access-s1" || got.RefreshToken != "refresh-s1" {
		t.Errorf("tokens = %q/%q", got.AccessToken, got.RefreshToken)
	}
	if got.User == nil || got.User.Email != "dana@example.com" {
		t.Errorf("user = %+v", got.User)
	}
	if !got.AccessExpiresAt.IsZero() {
		t.Errorf("expected zero access expiry, got %v", got.AccessExpiresAt)
	}

	// Upsert replaces the token pair.
	sess.AccessToken = "rotated"
	sess.AccessExpiresAt = time.Now().Add(15 * time.Minute)
	if err := s.PutAuthSession(ctx, sess); err != nil {
		t.Fatalf("PutAuthSession (update): %v", err)
	}
	got, err = s.GetAuthSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got.AccessToken != "rotated" {
		t.Errorf("expected rotated token, got %q", got.AccessToken)
	}
	if got.AccessExpiresAt.IsZero() {
		t.Error("expected access expiry to be stored")
	}

	if err := s.DeleteAuthSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	got, err = s.GetAuthSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got != nil {
		t.Error("expected session to be deleted")
	}
}

func TestExpiredAuthSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutAuthSession(ctx, testSession("old", -time.Minute)); err != nil {
		t.Fatalf("PutAuthSession: %v", err)
	}
	if err := s.PutAuthSession(ctx, testSession("fresh", time.Hour)); err != nil {
		t.Fatalf("PutAuthSession: %v", err)
	}

	got, err := s.GetAuthSession(ctx, "old")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got != nil {
		t.Error("expired session should not be returned")
	}

	if err := s.PutAuthSession(ctx, testSession("old2", -time.Minute)); err != nil {
		t.Fatalf("PutAuthSession: %v", err)
	}
	n, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
	got, _ = s.GetAuthSession(ctx, "fresh")
	if got == nil {
		t.Error("fresh session should survive cleanup")
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("questions.pdf")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("questions.pdf", "abc123", "ch1"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash("questions.pdf")
	if hash != "abc123" {
		t.Errorf("expected abc123, got %q", hash)
	}

	if err := s.SetImportedFileHash("questions.pdf", "def456", "ch2"); err != nil {
		t.Fatalf("SetImportedFileHash (update): %v", err)
	}
	hash, _ = s.GetImportedFileHash("questions.pdf")
	if hash != "def456" {
		t.Errorf("expected def456, got %q", hash)
	}
}

func TestMetadataAndCLISession(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"simple", "backend_url", "http://localhost:5000/api"},
		{"overwrite", "backend_url", "https://api.example.com"},
		{"other key", "last_login", "2026-10-19"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetMetadata(tt.key, tt.value); err != nil {
				t.Fatalf("SetMetadata: %v", err)
			}
			got, err := s.GetMetadata(tt.key)
			if err != nil {
				t.Fatalf("GetMetadata: %v", err)
			}
			if got != tt.value {
				t.Errorf("GetMetadata(%q) = %q, want %q", tt.key, got, tt.value)
			}
		})
	}

	id, err := s.CLISessionID()
	if err != nil {
		t.Fatalf("CLISessionID: %v", err)
	}
	if id != "" {
		t.Errorf("expected no CLI session, got %q", id)
	}
	if err := s.SetCLISessionID("cli-1"); err != nil {
		t.Fatalf("SetCLISessionID: %v", err)
	}
	id, _ = s.CLISessionID()
	if id != "cli-1" {
		t.Errorf("expected cli-1, got %q", id)
	}
	if err := s.SetCLISessionID(""); err != nil {
		t.Fatalf("SetCLISessionID(clear): %v", err)
	}
	id, _ = s.CLISessionID()
	if id != "" {
		t.Errorf("expected cleared CLI session, got %q", id)
	}
}
