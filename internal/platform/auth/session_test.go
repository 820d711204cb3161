package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSessions() (*Sessions, *MemoryRevocations) {
	rev := NewMemoryRevocations(time.Hour)
	return NewSessions(NewMemorySessions(), rev, testSigner(), 24*time.Hour), rev
}

func TestSessions_IssueAndRefresh(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	ctx := context.Background()

	pair, err := m.Issue(ctx, Principal{UserID: "u1", Role: RolePatient, Hospital: "sunrise", SubjectID: "p1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 900 {
		t.Errorf("unexpected pair: %+v", pair)
	}

	next, err := m.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token must rotate")
	}

	p, err := m.signer.Verify(next.AccessToken)
	if err != nil {
		t.Fatalf("verify refreshed token: %v", err)
	}
	if p.SubjectID != "p1" {
		t.Errorf("expected subject p1, got %s", p.SubjectID)
	}
}

func TestSessions_ReuseRevokesFamily(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	ctx := context.Background()

	first, _ := m.Issue(ctx, Principal{UserID: "u1", Role: RoleDoctor, Hospital: "sunrise"})
	second, err := m.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, err := m.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	if _, err := m.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected the live session to be revoked after reuse, got %v", err)
	}

	p, _ := m.signer.Verify(second.AccessToken)
	if gone, _ := m.SessionRevoked(ctx, p.SessionID); !gone {
		t.Error("expected the session's access tokens to be revoked")
	}
}

func TestSessions_RefreshUnknown(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	if _, err := m.Refresh(context.Background(), "nope"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
	if _, err := m.Refresh(context.Background(), ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestSessions_RefreshExpired(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	ctx := context.Background()

	pair, _ := m.Issue(ctx, Principal{UserID: "u1", Role: RolePatient, Hospital: "sunrise"})
	m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if _, err := m.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected expired refresh to fail, got %v", err)
	}
}

func TestSessions_Logout(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	ctx := context.Background()

	pair, _ := m.Issue(ctx, Principal{UserID: "u1", Role: RolePatient, Hospital: "sunrise"})
	p, _ := m.signer.Verify(pair.AccessToken)

	if err := m.Logout(ctx, p, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if gone, _ := rev.IsRevoked(ctx, p.TokenID); !gone {
		t.Error("expected access token to be revoked")
	}
	if _, err := m.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Error("expected refresh token to be unusable after logout")
	}
}

func TestSessions_RevokeUserKeepsCurrent(t *testing.T) {
	m, rev := newTestSessions()
	defer rev.Close()
	ctx := context.Background()

	keep, _ := m.Issue(ctx, Principal{UserID: "u1", Role: RoleDoctor, Hospital: "sunrise"})
	drop, _ := m.Issue(ctx, Principal{UserID: "u1", Role: RoleDoctor, Hospital: "sunrise"})
	other, _ := m.Issue(ctx, Principal{UserID: "u2", Role: RoleDoctor, Hospital: "sunrise"})

	kp, _ := m.signer.Verify(keep.AccessToken)
	n, err := m.RevokeUser(ctx, "sunrise", "u1", kp.SessionID)
	if err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 session revoked, got %d", n)
	}
	if _, err := m.Refresh(ctx, keep.RefreshToken); err != nil {
		t.Errorf("kept session should still refresh: %v", err)
	}
	if _, err := m.Refresh(ctx, drop.RefreshToken); err == nil {
		t.Error("dropped session should not refresh")
	}
	if _, err := m.Refresh(ctx, other.RefreshToken); err != nil {
		t.Errorf("other user's session should be unaffected: %v", err)
	}
}
