package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/config"
	"cloudfarm/internal/models"
	"cloudfarm/internal/security"
)

func TestLoginIssuesTokenBoundToSession(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "ana@farm.io", "s3cret!", "f1", models.RoleGerente)
	ctx := context.Background()

	res, err := f.auth.Login(ctx, LoginInput{Email: " ANA@farm.io ", Password: "s3cret!", DeviceID: "cli"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "u1", res.User.ID)

	id, err := f.auth.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, id.Claims.SessionID)
	assert.Equal(t, "f1", id.Profile.FarmID)
	assert.Equal(t, []string{models.RoleGerente}, id.Profile.Roles)
}

func TestLoginRejections(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "ana@farm.io", "s3cret!", "f1")
	ctx := context.Background()

	_, err := f.auth.Login(ctx, LoginInput{Email: "ana@farm.io", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, LoginInput{Email: "nobody@farm.io", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.mem.Users().UpdateStatus(ctx, "u1", models.UserStatusSuspended))
	_, err = f.auth.Login(ctx, LoginInput{Email: "ana@farm.io", Password: "s3cret!"})
	assert.ErrorIs(t, err, ErrUserSuspended)
}

func TestSessionLimitDropsOldest(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "ana@farm.io", "pw", "")
	ctx := context.Background()

	var first AuthResult
	for i, device := range []string{"a", "b", "c"} {
		res, err := f.auth.Login(ctx, LoginInput{Email: "ana@farm.io", Password: "pw", DeviceID: device})
		require.NoError(t, err)
		if i == 0 {
			first = res
		}
		time.Sleep(2 * time.Millisecond)
	}

	count, err := f.mem.Sessions().CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.auth.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRefreshAcceptsExpiredTokenInsideWindow(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, "u1", "ana@farm.io", "pw", "f1")
	ctx := context.Background()

	res, err := f.auth.Login(ctx, LoginInput{Email: "ana@farm.io", Password: "pw"})
	require.NoError(t, err)

	past := security.NewTokenIssuer("test-secret", -time.Minute, time.Hour)
	expired, _, err := past.Issue(user, res.SessionID)
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, expired)
	assert.ErrorIs(t, err, security.ErrTokenExpired)

	refreshed, err := f.auth.Refresh(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, refreshed.SessionID)

	_, err = f.auth.Authenticate(ctx, refreshed.Token)
	assert.NoError(t, err)
}

func TestRefreshAfterLogoutFails(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "ana@farm.io", "pw", "")
	ctx := context.Background()

	res, err := f.auth.Login(ctx, LoginInput{Email: "ana@farm.io", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, res.SessionID))
	require.NoError(t, f.auth.Logout(ctx, res.SessionID))

	_, err = f.auth.Refresh(ctx, res.Token)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	_, err = f.auth.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, security.ErrTokenInvalid)
}

func TestEnsureSeedUserIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := config.SeedConfig{Email: "Admin@Farm.io", Password: "pw", Name: "Admin", FarmID: "f1"}

	require.NoError(t, f.auth.EnsureSeedUser(ctx, seed))
	require.NoError(t, f.auth.EnsureSeedUser(ctx, seed))
	require.NoError(t, f.auth.EnsureSeedUser(ctx, config.SeedConfig{}))

	user, err := f.mem.Users().FindByEmail(ctx, "admin@farm.io")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleAdmin}, user.Roles)
	assert.Equal(t, "f1", user.FarmID)

	assert.Error(t, f.auth.EnsureSeedUser(ctx, config.SeedConfig{Email: "other@farm.io"}))
}

func TestPurgeExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.Sessions().Create(ctx, models.Session{ID: "s1", UserID: "u1", DeviceID: "d", ExpiresAt: time.Now().Add(-time.Minute)}))

	removed, err := f.auth.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
