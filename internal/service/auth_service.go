package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/config"
	"cloudfarm/internal/ids"
	"cloudfarm/internal/models"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
	ErrSessionRevoked     = errors.New("session revoked")
)

type AuthService struct {
	users       repository.UserStore
	sessions    repository.SessionStore
	tokens      *security.TokenIssuer
	maxSessions int
	log         zerolog.Logger
	now         func() time.Time
}

func NewAuthService(
	users repository.UserStore,
	sessions repository.SessionStore,
	tokens *security.TokenIssuer,
	maxSessions int,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		sessions:    sessions,
		tokens:      tokens,
		maxSessions: maxSessions,
		log:         log.With().Str("component", "auth").Logger(),
		now:         time.Now,
	}
}

type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
	SessionID string
}

// Identity is what an authenticated request or socket carries around.
type Identity struct {
	Claims  *security.AccessClaims
	Profile models.Profile
}

type LoginInput struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, ErrUserSuspended
	}

	deviceID := input.DeviceID
	if deviceID == "" {
		deviceID = ids.New()
	}
	deviceName := input.DeviceName
	if deviceName == "" {
		deviceName = "Unknown Device"
	}

	session := models.Session{
		ID:         ids.New(),
		UserID:     user.ID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		IPAddress:  input.IPAddress,
		UserAgent:  input.UserAgent,
		ExpiresAt:  s.sessionExpiry(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}

	token, expires, err := s.tokens.Issue(user, session.ID)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Str("session_id", session.ID).Msg("login")
	return AuthResult{Token: token, ExpiresAt: expires, User: user, SessionID: session.ID}, nil
}

// sessionExpiry keeps a session alive as long as its latest token can still
// be refreshed.
func (s *AuthService) sessionExpiry() time.Time {
	return s.now().Add(s.tokens.TTL() + s.tokens.RefreshWindow())
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.maxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.maxSessions {
		return nil
	}
	return s.sessions.DeleteOldestSessions(ctx, userID, s.maxSessions)
}

// Refresh exchanges a token, possibly expired but inside the refresh window,
// for a fresh one bound to the same session.
func (s *AuthService) Refresh(ctx context.Context, token string) (AuthResult, error) {
	claims, err := s.tokens.ParseForRefresh(token)
	if err != nil {
		return AuthResult{}, err
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return AuthResult{}, ErrSessionRevoked
		}
		return AuthResult{}, err
	}
	if session.UserID != claims.UserID || session.ExpiresAt.Before(s.now()) {
		return AuthResult{}, ErrSessionRevoked
	}

	user, err := s.activeUser(ctx, claims.UserID)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.sessions.Touch(ctx, session.ID, s.sessionExpiry()); err != nil {
		return AuthResult{}, fmt.Errorf("touch session: %w", err)
	}

	fresh, expires, err := s.tokens.Issue(user, session.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: fresh, ExpiresAt: expires, User: user, SessionID: session.ID}, nil
}

func (s *AuthService) activeUser(ctx context.Context, id string) (models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrSessionRevoked
		}
		return models.User{}, err
	}
	if user.Status != models.UserStatusActive {
		return models.User{}, ErrUserSuspended
	}
	return user, nil
}

// Authenticate validates a bearer token against the session table.
func (s *AuthService) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Identity{}, err
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return Identity{}, ErrSessionRevoked
		}
		return Identity{}, err
	}
	if session.UserID != claims.UserID {
		return Identity{}, ErrSessionRevoked
	}

	user, err := s.activeUser(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Claims: claims, Profile: user.Profile()}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	err := s.sessions.DeleteByID(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	return nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// EnsureSeedUser creates the configured bootstrap account when it does not
// exist yet. An empty seed email is a no-op.
func (s *AuthService) EnsureSeedUser(ctx context.Context, seed config.SeedConfig) error {
	email := strings.TrimSpace(strings.ToLower(seed.Email))
	if email == "" {
		return nil
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	if seed.Password == "" {
		return fmt.Errorf("seed user %s has no password", email)
	}

	hash, err := security.HashPassword(seed.Password)
	if err != nil {
		return err
	}
	roles := seed.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleAdmin}
	}
	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         seed.Name,
		Roles:        roles,
		FarmID:       seed.FarmID,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}
	s.log.Info().Str("email", email).Strs("roles", roles).Msg("seed user created")
	return nil
}

// PurgeExpiredSessions deletes sessions that can no longer be refreshed.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

// AuthenticateSocket adapts Authenticate for the realtime hub.
func (s *AuthService) AuthenticateSocket(ctx context.Context, token string) (models.Profile, error) {
	id, err := s.Authenticate(ctx, token)
	if err != nil {
		return models.Profile{}, err
	}
	return id.Profile, nil
}

// LogoutToken ends the session a token belongs to. Expired tokens inside the
// refresh window are accepted so a client can always sign out.
func (s *AuthService) LogoutToken(ctx context.Context, token string) error {
	claims, err := s.tokens.ParseForRefresh(token)
	if err != nil {
		return err
	}
	s.log.Info().Str("user_id", claims.UserID).Str("session_id", claims.SessionID).Msg("logout")
	return s.Logout(ctx, claims.SessionID)
}
