package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/remote"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
	"github.com/example/pos-offline/internal/testfixtures"
)

// fakeSource scripts the remote credential endpoint.
type fakeSource struct {
	user  remote.User
	err   error
	calls int
}

func (f *fakeSource) ValidateCredentials(ctx context.Context, login, secret string) (remote.User, error) {
	f.calls++
	if f.err != nil {
		return remote.User{}, f.err
	}
	return f.user, nil
}

func instantExecutor() *retry.Executor {
	return retry.NewExecutor(retry.DefaultPolicy()).WithSleeper(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})
}

type serviceFixture struct {
	service *Service
	mem     *testfixtures.MemStore
	clock   *testfixtures.Clock
	source  *fakeSource
}

func newServiceFixture(t *testing.T, reachable bool, opts Options) *serviceFixture {
	t.Helper()
	mem := testfixtures.NewMemStore()
	clock := testfixtures.NewClock(time.Time{})
	source := &fakeSource{}

	opts.Reachable = func() bool { return reachable }
	opts.Now = clock.NowFunc()
	if opts.IDGenerator == nil {
		opts.IDGenerator = testfixtures.NewIDGenerator("session").NextFunc()
	}

	service := NewService(mem, mem, instantExecutor(), source, events.NewBus(), opts)
	return &serviceFixture{service: service, mem: mem, clock: clock, source: source}
}

func (f *serviceFixture) seedCachedUser(t *testing.T, login, secret string, expiresIn time.Duration) store.CachedUser {
	t.Helper()
	now := f.clock.Now()
	user := store.CachedUser{
		ID:          "user-" + login,
		Login:       login,
		DisplayName: "Operator " + login,
		SecretHash:  DigestSecret(secret, "user-"+login),
		CachedAt:    now,
		ExpiresAt:   now.Add(expiresIn),
	}
	if err := f.mem.PutCachedUser(context.Background(), user); err != nil {
		t.Fatalf("seed cached user: %v", err)
	}
	return user
}

func TestAuthenticateOffline_Succeeds(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)

	result, err := f.service.Authenticate(context.Background(), "Alice ", "1234")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !result.Offline {
		t.Error("expected offline result")
	}
	if result.StaleCredential {
		t.Error("fresh cache must not warn")
	}
	if result.Session.UserID != "user-alice" {
		t.Errorf("unexpected session user: %s", result.Session.UserID)
	}
	if f.source.calls != 0 {
		t.Errorf("remote source must not be consulted offline, got %d calls", f.source.calls)
	}
}

func TestAuthenticateOffline_UniformFailure(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)

	// Unknown login and wrong secret yield the identical error so user
	// existence never leaks.
	_, unknownErr := f.service.Authenticate(context.Background(), "mallory", "1234")
	_, wrongErr := f.service.Authenticate(context.Background(), "alice", "9999")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("unknown login: expected ErrInvalidCredentials, got %v", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("wrong secret: expected ErrInvalidCredentials, got %v", wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Error("failure messages must be indistinguishable")
	}
}

func TestAuthenticateOffline_NoLockout(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)

	for i := 0; i < 20; i++ {
		if _, err := f.service.Authenticate(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// The correct secret still works after any number of failures.
	if _, err := f.service.Authenticate(context.Background(), "alice", "1234"); err != nil {
		t.Fatalf("correct secret after failures: %v", err)
	}
}

func TestAuthenticateOffline_ExpiredCacheWarnsButSucceeds(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", time.Hour)
	f.clock.Advance(48 * time.Hour)

	result, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !result.StaleCredential {
		t.Fatal("expected stale-credential warning")
	}
	if result.CacheAge != 48*time.Hour {
		t.Errorf("expected cache age 48h, got %v", result.CacheAge)
	}
}

func TestAuthenticateOffline_HardStalenessCeiling(t *testing.T) {
	f := newServiceFixture(t, false, Options{MaxStale: 24 * time.Hour})
	f.seedCachedUser(t, "alice", "1234", time.Hour)
	f.clock.Advance(72 * time.Hour)

	_, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if !errors.Is(err, ErrCredentialTooStale) {
		t.Fatalf("expected ErrCredentialTooStale, got %v", err)
	}

	// The ceiling must not fire for a wrong secret; that stays the uniform
	// invalid-credentials failure.
	_, err = f.service.Authenticate(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateOffline_DisabledUserRejected(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	user := f.seedCachedUser(t, "alice", "1234", 24*time.Hour)
	user.Disabled = true
	if err := f.mem.PutCachedUser(context.Background(), user); err != nil {
		t.Fatalf("update cached user: %v", err)
	}

	if _, err := f.service.Authenticate(context.Background(), "alice", "1234"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateOnline_RefreshesCacheAndOpensSession(t *testing.T) {
	f := newServiceFixture(t, true, Options{CacheTTL: 12 * time.Hour})
	f.source.user = remote.User{ID: "user-1", Login: "alice", DisplayName: "Alice"}

	result, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if result.Offline {
		t.Error("expected online result")
	}
	if f.source.calls != 1 {
		t.Errorf("expected 1 remote call, got %d", f.source.calls)
	}

	// The cache now authenticates the same credentials offline.
	cached, err := f.mem.GetCachedUserByLogin(context.Background(), "alice")
	if err != nil {
		t.Fatalf("cache not refreshed: %v", err)
	}
	if cached.ExpiresAt != f.clock.Now().Add(12*time.Hour) {
		t.Errorf("unexpected cache expiry %v", cached.ExpiresAt)
	}
	if err := VerifySecret(cached.SecretHash, "1234", cached.ID); err != nil {
		t.Errorf("refreshed cache must verify the plaintext used online: %v", err)
	}
}

func TestAuthenticateOnline_RemoteRejectionDoesNotFallBack(t *testing.T) {
	f := newServiceFixture(t, true, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)
	f.source.err = remote.ErrUnauthorized

	// The remote verdict is authoritative while reachable, even though the
	// cached hash would have matched.
	if _, err := f.service.Authenticate(context.Background(), "alice", "1234"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateOnline_TransientRemoteFailureFallsBackToCache(t *testing.T) {
	f := newServiceFixture(t, true, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)
	f.source.err = store.NewTransient("validate", store.ReasonNetwork, errors.New("connection reset"))

	result, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("expected cache fallback, got %v", err)
	}
	if !result.Offline {
		t.Error("fallback result must be marked offline")
	}
}

func TestSessionLifecycle_ResumeLogoutAndAtMostOneOpen(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)
	f.seedCachedUser(t, "bob", "5678", 24*time.Hour)

	first, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	// Same user logging in again resumes the open session.
	second, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if second.Session.ID != first.Session.ID {
		t.Errorf("expected resumed session %s, got %s", first.Session.ID, second.Session.ID)
	}

	// A different user displaces the open session.
	third, err := f.service.Authenticate(context.Background(), "bob", "5678")
	if err != nil {
		t.Fatalf("third login failed: %v", err)
	}
	if third.Session.ID == first.Session.ID {
		t.Error("expected a fresh session for the other user")
	}

	current, err := f.service.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if current.UserID != "user-bob" {
		t.Errorf("expected bob's session, got %s", current.UserID)
	}

	if err := f.service.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := f.service.CurrentSession(context.Background()); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession after logout, got %v", err)
	}
	if err := f.service.Logout(context.Background()); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession on double logout, got %v", err)
	}
}

func TestSessionsNeverExpireFromElapsedTimeOffline(t *testing.T) {
	f := newServiceFixture(t, false, Options{})
	f.seedCachedUser(t, "alice", "1234", 24*time.Hour)

	first, err := f.service.Authenticate(context.Background(), "alice", "1234")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	f.clock.Advance(30 * 24 * time.Hour)

	current, err := f.service.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("session must survive elapsed time: %v", err)
	}
	if current.ID != first.Session.ID {
		t.Errorf("expected session %s, got %s", first.Session.ID, current.ID)
	}
}

func TestRefreshCredentialCache_SkipsHashlessRecords(t *testing.T) {
	f := newServiceFixture(t, true, Options{})

	err := f.service.RefreshCredentialCache(context.Background(), []remote.User{
		{ID: "user-1", Login: "alice", SecretHash: DigestSecret("1234", "user-1")},
		{ID: "user-2", Login: "bob"},
	})
	if err != nil {
		t.Fatalf("RefreshCredentialCache failed: %v", err)
	}

	if _, err := f.mem.GetCachedUserByLogin(context.Background(), "alice"); err != nil {
		t.Errorf("alice must be cached: %v", err)
	}
	if _, err := f.mem.GetCachedUserByLogin(context.Background(), "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("hashless bob must be skipped, got %v", err)
	}
}
