// Package session holds the client's current bearer token and user profile.
//
// The token payload is decoded without signature verification. The backend is
// the trust boundary; the client only needs the expiry to decide when to refresh.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"cloudfarm/internal/models"
)

var ErrNoUser = errors.New("session: no user")

type Store struct {
	storage Storage
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
	user  *models.Profile

	hooksMu sync.Mutex
	hooks   map[int]func(authenticated bool)
	nextID  int
}

type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(storage Storage, log zerolog.Logger, opts ...Option) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Store{
		storage: storage,
		log:     log.With().Str("component", "session").Logger(),
		now:     time.Now,
		hooks:   make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load seeds the in-memory session from storage. A missing or unreadable
// session leaves the store unauthenticated.
func (s *Store) Load(ctx context.Context) {
	token, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error().Err(err).Msg("read persisted token")
		}
		return
	}
	raw, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error().Err(err).Msg("read persisted user")
		}
		return
	}
	var user models.Profile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.log.Warn().Err(err).Msg("discarding corrupt persisted user")
		return
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	s.mu.Unlock()

	s.log.Debug().Str("user_id", user.ID).Bool("token_valid", s.IsTokenValid()).Msg("session loaded")
	s.notify()
}

func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// User returns a copy of the current profile.
func (s *Store) User() (*models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	u.Roles = append([]string(nil), s.user.Roles...)
	return &u, true
}

func (s *Store) Expiry() (time.Time, bool) {
	token, ok := s.Token()
	if !ok {
		return time.Time{}, false
	}
	return TokenExpiry(token)
}

func (s *Store) IsTokenValid() bool {
	token, _ := s.Token()
	return s.unexpired(token)
}

// IsAuthenticated reports whether a user is present and the token that was
// stored alongside it is unexpired. Both are read under one lock.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	token, hasUser := s.token, s.user != nil
	s.mu.RUnlock()
	return hasUser && s.unexpired(token)
}

func (s *Store) unexpired(token string) bool {
	if token == "" {
		return false
	}
	exp, ok := TokenExpiry(token)
	return ok && s.now().Before(exp)
}

// SetSession replaces token and user together. The in-memory session is
// updated even when persisting fails; the persistence error is logged and
// returned.
func (s *Store) SetSession(ctx context.Context, token string, user models.Profile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = &user
	s.mu.Unlock()

	err = s.storage.Set(ctx, map[string]string{
		KeyToken: token,
		KeyUser:  string(raw),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("persist session")
		err = fmt.Errorf("persist session: %w", err)
	}
	s.notify()
	return err
}

// UpdateToken swaps the token and keeps the current user.
func (s *Store) UpdateToken(ctx context.Context, token string) error {
	user, ok := s.User()
	if !ok {
		return ErrNoUser
	}
	return s.SetSession(ctx, token, *user)
}

// Clear empties the session. It is idempotent and always succeeds in memory.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	had := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
		s.log.Error().Err(err).Msg("delete persisted session")
	}
	if had {
		s.log.Debug().Msg("session cleared")
		s.notify()
	}
}

func (s *Store) RememberedLogin(ctx context.Context) string {
	v, err := s.storage.Get(ctx, KeyRememberedLogin)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn().Err(err).Msg("read remembered login")
		}
		return ""
	}
	return v
}

// SetRememberedLogin stores the login identifier; an empty value forgets it.
func (s *Store) SetRememberedLogin(ctx context.Context, login string) error {
	var err error
	if login == "" {
		err = s.storage.Delete(ctx, KeyRememberedLogin)
	} else {
		err = s.storage.Set(ctx, map[string]string{KeyRememberedLogin: login})
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("persist remembered login")
		return fmt.Errorf("persist remembered login: %w", err)
	}
	return nil
}

// OnChange registers fn to run after every session replacement or clear.
func (s *Store) OnChange(fn func(authenticated bool)) (remove func()) {
	s.hooksMu.Lock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = fn
	s.hooksMu.Unlock()

	return func() {
		s.hooksMu.Lock()
		delete(s.hooks, id)
		s.hooksMu.Unlock()
	}
}

func (s *Store) notify() {
	s.hooksMu.Lock()
	ids := make([]int, 0, len(s.hooks))
	for id := range s.hooks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.hooks[id])
	}
	s.hooksMu.Unlock()

	authenticated := s.IsAuthenticated()
	for _, fn := range fns {
		s.safeCall(fn, authenticated)
	}
}

func (s *Store) safeCall(fn func(bool), authenticated bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("session change hook panicked")
		}
	}()
	fn(authenticated)
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
