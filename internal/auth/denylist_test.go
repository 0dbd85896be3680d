package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDenylist_RevokeAndExpire(t *testing.T) {
	d := NewMemoryDenylist()
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if err := d.Revoke(ctx, "h1", now.Add(time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := d.Revoke(ctx, "stale", now.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := d.IsRevoked(ctx, "h1"); !ok {
		t.Fatalf("expected h1 revoked")
	}
	if ok, _ := d.IsRevoked(ctx, "stale"); ok {
		t.Fatalf("already-expired tokens need no entry")
	}
	if ok, _ := d.IsRevoked(ctx, "other"); ok {
		t.Fatalf("expected other not revoked")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := d.IsRevoked(ctx, "h1"); ok {
		t.Fatalf("expected entry to lapse with the token")
	}
	if n := d.Cleanup(); n != 1 || d.Len() != 0 {
		t.Fatalf("expected cleanup to drop 1 entry, dropped %d, left %d", n, d.Len())
	}
}

func TestMemoryDenylist_CoversLastAcceptedSecond(t *testing.T) {
	m := newTestManager(t, "secret")
	issued := time.Unix(1700000000, 0)
	tok, err := m.Issue(issued, sampleClaims(), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(tok, issued)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	exp := claims.ExpiresAt.Time

	d := NewMemoryDenylist()
	now := issued
	d.now = func() time.Time { return now }
	ctx := context.Background()
	if err := d.Revoke(ctx, Hash(tok), exp); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	now = exp.Add(500 * time.Millisecond)
	if _, err := m.Verify(tok, now); err != nil {
		t.Fatalf("expected token still accepted within its expiry second: %v", err)
	}
	if ok, _ := d.IsRevoked(ctx, Hash(tok)); !ok {
		t.Fatalf("expected revocation to hold while the token verifies")
	}

	now = exp.Add(time.Second)
	if _, err := m.Verify(tok, now); err == nil {
		t.Fatalf("expected token expired")
	}
	if ok, _ := d.IsRevoked(ctx, Hash(tok)); ok {
		t.Fatalf("expected entry to lapse once the token is rejected")
	}
}

func TestMemoryDenylist_RevokeAtExpiry(t *testing.T) {
	d := NewMemoryDenylist()
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if err := d.Revoke(ctx, "h1", now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := d.IsRevoked(ctx, "h1"); !ok {
		t.Fatalf("a token expiring now still verifies and must be revocable")
	}
}
