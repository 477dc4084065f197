package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/persistence/memory"
	"github.com/example/rental-broker/internal/token"
)

const testSessionTTL = time.Hour

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubVerify accepts a password when the stored hash is "hash:" + password.
func stubVerify(hash, password string) error {
	if hash == "hash:"+password {
		return nil
	}
	return ErrInvalidCredentials
}

type authFixture struct {
	store   *memory.Store
	clock   *testClock
	issuer  *token.Issuer
	service *AuthService
}

func newAuthFixture(t *testing.T, limiter RateLimiter) authFixture {
	t.Helper()
	clock := &testClock{now: testNow}
	issuer, err := token.NewIssuer(strings.Repeat("k", token.MinKeyLength), "rental-broker", clock.Now)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := newSeededStore(t)
	service := NewAuthService(store, store, issuer, stubVerify, limiter, newSequence("session"), clock.Now, testSessionTTL)
	return authFixture{store: store, clock: clock, issuer: issuer, service: service}
}

func (f authFixture) login(t *testing.T) AuthenticateResult {
	t.Helper()
	result, err := f.service.Authenticate(context.Background(), AuthenticateParams{
		Email:    renter.ID + "@example.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return result
}

func TestAuthService_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("issues a session for valid credentials", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)

		result, err := f.service.Authenticate(context.Background(), AuthenticateParams{
			Email:       "  Renter-1@Example.com ",
			Password:    "secret",
			Fingerprint: " device ",
		})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if result.User.ID != renter.ID {
			t.Fatalf("expected user %s, got %s", renter.ID, result.User.ID)
		}
		if result.Session.ID != "session-1" || result.Session.Token == "" {
			t.Fatalf("unexpected session: %#v", result.Session)
		}
		if result.Session.Fingerprint != "device" {
			t.Fatalf("expected fingerprint to be trimmed, got %q", result.Session.Fingerprint)
		}
		if want := testNow.Add(testSessionTTL); !result.Session.ExpiresAt.Equal(want) {
			t.Fatalf("expected expiry %s, got %s", want, result.Session.ExpiresAt)
		}

		claims, err := f.issuer.Verify(result.Session.Token)
		if err != nil {
			t.Fatalf("issued token does not verify: %v", err)
		}
		if claims.Subject != renter.ID || claims.SessionID != result.Session.ID {
			t.Fatalf("unexpected claims: %#v", claims)
		}
	})

	t.Run("rejects wrong passwords and unknown emails alike", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)

		cases := []AuthenticateParams{
			{Email: renter.ID + "@example.com", Password: "wrong"},
			{Email: "nobody@example.com", Password: "secret"},
			{Email: "", Password: "secret"},
			{Email: renter.ID + "@example.com", Password: ""},
		}
		for _, params := range cases {
			_, err := f.service.Authenticate(context.Background(), params)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("%#v: expected ErrInvalidCredentials, got %v", params, err)
			}
		}
	})

	t.Run("rate limits attempts per email", func(t *testing.T) {
		t.Parallel()
		limiter := &limiterStub{allow: 2}
		f := newAuthFixture(t, limiter)

		for i := 0; i < 2; i++ {
			_, err := f.service.Authenticate(context.Background(), AuthenticateParams{
				Email:    renter.ID + "@example.com",
				Password: "wrong",
			})
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
			}
		}

		_, err := f.service.Authenticate(context.Background(), AuthenticateParams{
			Email:    renter.ID + "@example.com",
			Password: "secret",
		})
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if limiter.seen["login:"+renter.ID+"@example.com"] != 3 {
			t.Fatalf("unexpected limiter keys: %#v", limiter.seen)
		}

		if _, err := f.service.Authenticate(context.Background(), AuthenticateParams{
			Email:    landlord.ID + "@example.com",
			Password: "secret",
		}); err != nil {
			t.Fatalf("other emails should not be limited: %v", err)
		}
	})

	t.Run("propagates limiter failures", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("redis down")
		f := newAuthFixture(t, &limiterStub{err: boom})

		_, err := f.service.Authenticate(context.Background(), AuthenticateParams{
			Email:    renter.ID + "@example.com",
			Password: "secret",
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected limiter error, got %v", err)
		}
		if errors.Is(err, ErrRateLimited) {
			t.Fatalf("limiter failure must not look like a rejection")
		}
	})
}

func TestAuthService_ValidateSession(t *testing.T) {
	t.Parallel()

	t.Run("returns the actor with the current role", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		result := f.login(t)

		actor, err := f.service.ValidateSession(context.Background(), result.Session.Token)
		if err != nil {
			t.Fatalf("ValidateSession failed: %v", err)
		}
		if actor != renter {
			t.Fatalf("expected %#v, got %#v", renter, actor)
		}

		user, err := f.store.GetUser(context.Background(), renter.ID)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		user.Role = authz.RoleLandlord
		if err := f.store.UpdateUser(context.Background(), user); err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}

		actor, err = f.service.ValidateSession(context.Background(), result.Session.Token)
		if err != nil {
			t.Fatalf("ValidateSession after role change failed: %v", err)
		}
		if actor.Role != authz.RoleLandlord {
			t.Fatalf("expected role read from the store, got %s", actor.Role)
		}
	})

	t.Run("rejects malformed and foreign tokens", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		f.login(t)

		foreign, err := token.NewIssuer(strings.Repeat("x", token.MinKeyLength), "rental-broker", f.clock.Now)
		if err != nil {
			t.Fatalf("NewIssuer: %v", err)
		}
		forged, err := foreign.Issue(renter.ID, "session-1", string(authz.RoleAdmin), time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}

		for _, raw := range []string{"", "   ", "not-a-token", forged.Token} {
			if _, err := f.service.ValidateSession(context.Background(), raw); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("%q: expected ErrInvalidCredentials, got %v", raw, err)
			}
		}
	})

	t.Run("rejects tokens naming another user's session", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		f.login(t)

		borrowed, err := f.issuer.Issue(stranger.ID, "session-1", string(stranger.Role), time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := f.service.ValidateSession(context.Background(), borrowed.Token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("reports expiry of the token", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		result := f.login(t)

		f.clock.Advance(testSessionTTL + time.Minute)
		if _, err := f.service.ValidateSession(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("reports expiry of the stored session", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		result := f.login(t)

		session, err := f.store.GetSession(context.Background(), result.Session.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		session.ExpiresAt = testNow
		if _, err := f.store.UpdateSession(context.Background(), session); err != nil {
			t.Fatalf("UpdateSession: %v", err)
		}

		if _, err := f.service.ValidateSession(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestAuthService_RevokeSession(t *testing.T) {
	t.Parallel()

	t.Run("revoked sessions no longer validate", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)
		result := f.login(t)

		if err := f.service.RevokeSession(context.Background(), result.Session.Token); err != nil {
			t.Fatalf("RevokeSession failed: %v", err)
		}
		if _, err := f.service.ValidateSession(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
		if _, err := f.service.RefreshSession(context.Background(), RefreshSessionParams{Token: result.Session.Token}); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected refresh of a revoked session to fail, got %v", err)
		}
	})

	t.Run("rejects unknown tokens", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t, nil)

		if err := f.service.RevokeSession(context.Background(), "garbage"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}

		orphan, err := f.issuer.Issue(renter.ID, "missing-session", string(renter.Role), time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if err := f.service.RevokeSession(context.Background(), orphan.Token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for an unknown session, got %v", err)
		}
	})
}

func TestAuthService_RefreshSession(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil)
	result := f.login(t)

	f.clock.Advance(30 * time.Minute)
	refreshed, err := f.service.RefreshSession(context.Background(), RefreshSessionParams{
		Token:       result.Session.Token,
		Fingerprint: "laptop",
	})
	if err != nil {
		t.Fatalf("RefreshSession failed: %v", err)
	}

	if refreshed.Session.ID != result.Session.ID {
		t.Fatalf("expected the same session, got %s", refreshed.Session.ID)
	}
	if want := f.clock.Now().Add(testSessionTTL); !refreshed.Session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, refreshed.Session.ExpiresAt)
	}
	if refreshed.Session.Fingerprint != "laptop" {
		t.Fatalf("expected fingerprint to be updated, got %q", refreshed.Session.Fingerprint)
	}

	f.clock.Advance(45 * time.Minute)
	if _, err := f.service.ValidateSession(context.Background(), refreshed.Session.Token); err != nil {
		t.Fatalf("refreshed token should outlive the original expiry: %v", err)
	}
	if _, err := f.service.ValidateSession(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected the original token to expire, got %v", err)
	}
}
