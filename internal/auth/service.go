// Package auth authenticates the terminal operator. While the remote service
// is reachable credentials are validated remotely and mirrored into the local
// cache; while it is unreachable they are validated against the cache.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/logging"
	"github.com/example/pos-offline/internal/remote"
	"github.com/example/pos-offline/internal/retry"
	"github.com/example/pos-offline/internal/store"
)

var (
	// ErrInvalidCredentials is the single externally visible failure for a
	// missing login, a disabled account, or a wrong secret. It deliberately
	// never reveals whether the login existed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrCredentialTooStale is returned when the cached credential matched
	// but is older than the configured hard ceiling.
	ErrCredentialTooStale = errors.New("auth: cached credential too stale")
	// ErrNoOpenSession is returned by Logout and Touch when no session is open.
	ErrNoOpenSession = errors.New("auth: no open session")
)

// CredentialSource is the online credential-validation endpoint.
type CredentialSource interface {
	ValidateCredentials(ctx context.Context, login, secret string) (remote.User, error)
}

// Result is a successful authentication: the session plus the cached user
// snapshot, with a freshness warning when the cache had expired.
type Result struct {
	Session         store.Session
	User            store.CachedUser
	Offline         bool
	StaleCredential bool
	CacheAge        time.Duration
}

// AuthEvent is the payload of events.AuthResult.
type AuthEvent struct {
	Login   string
	Success bool
	Offline bool
}

// Options configures a Service.
type Options struct {
	// CacheTTL is the validity window written on refreshed cache records.
	CacheTTL time.Duration
	// MaxStale is the hard ceiling past a record's expiry after which even a
	// matching secret is rejected. Zero disables the ceiling, leaving expiry
	// as a warning only.
	MaxStale time.Duration
	// Reachable reports the connection monitor's belief; nil means offline.
	Reachable   func() bool
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Service coordinates online and offline authentication and the session
// lifecycle. Sessions never expire from elapsed time while offline; only an
// explicit logout or store clearance invalidates them.
type Service struct {
	users     store.UserCacheRepository
	sessions  store.SessionRepository
	executor  *retry.Executor
	source    CredentialSource
	bus       *events.Bus
	cacheTTL  time.Duration
	maxStale  time.Duration
	reachable func() bool
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// NewService constructs an auth Service.
func NewService(users store.UserCacheRepository, sessions store.SessionRepository, executor *retry.Executor, source CredentialSource, bus *events.Bus, opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * 24 * time.Hour
	}
	if opts.Reachable == nil {
		opts.Reachable = func() bool { return false }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		executor:  executor,
		source:    source,
		bus:       bus,
		cacheTTL:  opts.CacheTTL,
		maxStale:  opts.MaxStale,
		reachable: opts.Reachable,
		newID:     opts.IDGenerator,
		now:       opts.Now,
		logger:    logging.Default(opts.Logger).With("component", "auth"),
	}
}

// Authenticate validates credentials, deferring to the remote service while
// it is reachable and to the local cache otherwise. A transient remote
// failure mid-login falls back to the cache rather than blocking the
// operator.
func (s *Service) Authenticate(ctx context.Context, login, secret string) (Result, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || secret == "" {
		s.publishResult(login, false, !s.reachable())
		return Result{}, ErrInvalidCredentials
	}

	if s.reachable() && s.source != nil {
		result, err := s.authenticateOnline(ctx, login, secret)
		if err == nil || errors.Is(err, ErrInvalidCredentials) {
			return result, err
		}
		s.logger.WarnContext(ctx, "online validation unavailable, falling back to cache", "error", err)
	}

	return s.AuthenticateOffline(ctx, login, secret)
}

func (s *Service) authenticateOnline(ctx context.Context, login, secret string) (Result, error) {
	logger := logging.Operation(ctx, s.logger, "auth", "AuthenticateOnline", "login", login)

	user, err := s.source.ValidateCredentials(ctx, login, secret)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			logger.InfoContext(ctx, "remote rejected credentials")
			s.publishResult(login, false, false)
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, err
	}
	if user.Disabled {
		s.publishResult(login, false, false)
		return Result{}, ErrInvalidCredentials
	}

	// Opportunistic cache refresh: prefer the hash the remote delivered,
	// fall back to the local digest scheme now that the plaintext is in hand.
	hash := user.SecretHash
	if hash == "" {
		hash = DigestSecret(secret, user.ID)
	}
	now := s.now()
	cached := store.CachedUser{
		ID:          user.ID,
		Login:       user.Login,
		DisplayName: user.DisplayName,
		SecretHash:  hash,
		Disabled:    user.Disabled,
		CachedAt:    now,
		ExpiresAt:   now.Add(s.cacheTTL),
	}
	if err := s.putCachedUser(ctx, cached); err != nil {
		logger.ErrorContext(ctx, "failed to refresh credential cache", "error", err)
	}

	session, err := s.openOrResumeSession(ctx, cached)
	if err != nil {
		return Result{}, err
	}

	logger.InfoContext(ctx, "authentication succeeded", "user_id", cached.ID, "session_id", session.ID)
	s.publishResult(login, true, false)
	return Result{Session: session, User: cached}, nil
}

// AuthenticateOffline validates credentials against the local cache only.
// There is no failed-attempt lockout: a legitimate operator is never locked
// out of eventually entering the correct secret while offline.
func (s *Service) AuthenticateOffline(ctx context.Context, login, secret string) (Result, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	logger := logging.Operation(ctx, s.logger, "auth", "AuthenticateOffline", "login", login)

	user, err := retry.DoValue(ctx, s.executor, "get cached user", func(ctx context.Context) (store.CachedUser, error) {
		return s.users.GetCachedUserByLogin(ctx, login)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.InfoContext(ctx, "authentication failed")
			s.publishResult(login, false, true)
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, err
	}

	if user.Disabled || VerifySecret(user.SecretHash, secret, user.ID) != nil {
		logger.InfoContext(ctx, "authentication failed")
		s.publishResult(login, false, true)
		return Result{}, ErrInvalidCredentials
	}

	now := s.now()
	stale := now.After(user.ExpiresAt)
	if stale && s.maxStale > 0 && now.After(user.ExpiresAt.Add(s.maxStale)) {
		logger.WarnContext(ctx, "cached credential past hard staleness ceiling", "expired_at", user.ExpiresAt)
		s.publishResult(login, false, true)
		return Result{}, ErrCredentialTooStale
	}

	session, err := s.openOrResumeSession(ctx, user)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Session:         session,
		User:            user,
		Offline:         true,
		StaleCredential: stale,
	}
	if stale {
		result.CacheAge = now.Sub(user.CachedAt)
		logger.WarnContext(ctx, "authenticated with expired credential cache", "cache_age", result.CacheAge)
	}

	logger.InfoContext(ctx, "offline authentication succeeded", "user_id", user.ID, "session_id", session.ID)
	s.publishResult(login, true, true)
	return result, nil
}

// RefreshCredentialCache upserts cache records for the given remote users,
// stamping a fresh validity window. Called opportunistically while online.
func (s *Service) RefreshCredentialCache(ctx context.Context, users []remote.User) error {
	now := s.now()
	for _, user := range users {
		if user.SecretHash == "" {
			// A record without a hash cannot authenticate anyone offline.
			continue
		}
		cached := store.CachedUser{
			ID:          user.ID,
			Login:       user.Login,
			DisplayName: user.DisplayName,
			SecretHash:  user.SecretHash,
			Disabled:    user.Disabled,
			CachedAt:    now,
			ExpiresAt:   now.Add(s.cacheTTL),
		}
		if err := s.putCachedUser(ctx, cached); err != nil {
			return err
		}
	}
	return nil
}

// CurrentSession returns the open session and refreshes its last-accessed
// timestamp.
func (s *Service) CurrentSession(ctx context.Context) (store.Session, error) {
	session, err := retry.DoValue(ctx, s.executor, "get open session", func(ctx context.Context) (store.Session, error) {
		return s.sessions.GetOpenSession(ctx)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, ErrNoOpenSession
		}
		return store.Session{}, err
	}

	now := s.now()
	if err := s.touchSession(ctx, session.ID, now); err != nil {
		return store.Session{}, err
	}
	session.LastAccessedAt = now
	return session, nil
}

// Logout closes the open session. Closing is the only time-independent way a
// session becomes invalid while offline.
func (s *Service) Logout(ctx context.Context) error {
	session, err := retry.DoValue(ctx, s.executor, "get open session", func(ctx context.Context) (store.Session, error) {
		return s.sessions.GetOpenSession(ctx)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoOpenSession
		}
		return err
	}

	if err := s.executor.Do(ctx, "close session", func(ctx context.Context) error {
		return s.sessions.CloseSession(ctx, session.ID, s.now())
	}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session closed", "session_id", session.ID, "user_id", session.UserID)
	return nil
}

// openOrResumeSession resumes the open session when it belongs to the same
// user, otherwise opens a fresh one (closing any other open session).
func (s *Service) openOrResumeSession(ctx context.Context, user store.CachedUser) (store.Session, error) {
	now := s.now()

	existing, err := retry.DoValue(ctx, s.executor, "get open session", func(ctx context.Context) (store.Session, error) {
		return s.sessions.GetOpenSession(ctx)
	})
	if err == nil && existing.UserID == user.ID {
		if err := s.touchSession(ctx, existing.ID, now); err != nil {
			return store.Session{}, err
		}
		existing.LastAccessedAt = now
		return existing, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Session{}, err
	}

	snapshot, err := json.Marshal(map[string]string{
		"id":           user.ID,
		"login":        user.Login,
		"display_name": user.DisplayName,
	})
	if err != nil {
		return store.Session{}, err
	}

	session := store.Session{
		ID:             s.newID(),
		UserID:         user.ID,
		State:          store.SessionOpen,
		UserData:       snapshot,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	return retry.DoValue(ctx, s.executor, "open session", func(ctx context.Context) (store.Session, error) {
		return s.sessions.OpenSession(ctx, session)
	})
}

func (s *Service) putCachedUser(ctx context.Context, user store.CachedUser) error {
	return s.executor.Do(ctx, "put cached user", func(ctx context.Context) error {
		return s.users.PutCachedUser(ctx, user)
	})
}

func (s *Service) touchSession(ctx context.Context, id string, at time.Time) error {
	return s.executor.Do(ctx, "touch session", func(ctx context.Context) error {
		return s.sessions.TouchSession(ctx, id, at)
	})
}

func (s *Service) publishResult(login string, success, offline bool) {
	if s.bus != nil {
		s.bus.Publish(events.AuthResult, AuthEvent{Login: login, Success: success, Offline: offline})
	}
}
