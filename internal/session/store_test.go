package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/models"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testProfile() models.Profile {
	return models.Profile{
		ID:     "u1",
		Name:   "Ana",
		Email:  "ana@cloudfarm.test",
		Roles:  []string{models.RoleGerente},
		FarmID: "f1",
	}
}

type failingStorage struct {
	*MemoryStorage
	err error
}

func (f *failingStorage) Set(context.Context, map[string]string) error { return f.err }
func (f *failingStorage) Delete(context.Context, ...string) error     { return f.err }

func TestTokenExpiry(t *testing.T) {
	now := time.Now()
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"uid": "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		valid bool
	}{
		{"future", signToken(t, now.Add(time.Hour)), true},
		{"past", signToken(t, now.Add(-time.Minute)), false},
		{"empty", "", false},
		{"garbage", "not-a-token", false},
		{"bad payload", "eyJhbGciOiJIUzI1NiJ9.%%%.sig", false},
		{"missing exp", noExp, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewStore(NewMemoryStorage(), zerolog.Nop())
			require.NotPanics(t, func() {
				_ = store.SetSession(context.Background(), tc.token, testProfile())
			})
			assert.Equal(t, tc.valid, store.IsTokenValid())
			assert.Equal(t, tc.valid, store.IsAuthenticated())
		})
	}
}

func TestStoreUsesInjectedClock(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := exp.Add(-time.Second)
	store := NewStore(nil, zerolog.Nop(), WithClock(func() time.Time { return clock }))
	require.NoError(t, store.SetSession(context.Background(), signToken(t, exp), testProfile()))

	assert.True(t, store.IsTokenValid())
	got, ok := store.Expiry()
	require.True(t, ok)
	assert.Equal(t, exp.Unix(), got.Unix())

	clock = exp
	assert.False(t, store.IsTokenValid())
}

func TestSetSessionPersistsAndLoads(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	token := signToken(t, time.Now().Add(time.Hour))

	first := NewStore(storage, zerolog.Nop())
	require.NoError(t, first.SetSession(ctx, token, testProfile()))

	second := NewStore(storage, zerolog.Nop())
	assert.False(t, second.IsAuthenticated())
	second.Load(ctx)

	got, ok := second.Token()
	require.True(t, ok)
	assert.Equal(t, token, got)
	user, ok := second.User()
	require.True(t, ok)
	assert.Equal(t, testProfile(), *user)
	assert.True(t, second.IsAuthenticated())
}

func TestUserReturnsCopy(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	require.NoError(t, store.SetSession(context.Background(), signToken(t, time.Now().Add(time.Hour)), testProfile()))

	user, _ := store.User()
	user.Roles[0] = models.RoleAdmin
	user.Name = "changed"

	again, _ := store.User()
	assert.Equal(t, "Ana", again.Name)
	assert.Equal(t, []string{models.RoleGerente}, again.Roles)
}

func TestLoadDiscardsCorruptUser(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, map[string]string{
		KeyToken: signToken(t, time.Now().Add(time.Hour)),
		KeyUser:  "{not json",
	}))

	store := NewStore(storage, zerolog.Nop())
	store.Load(ctx)
	assert.False(t, store.IsAuthenticated())
	_, ok := store.User()
	assert.False(t, ok)
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewStore(storage, zerolog.Nop())
	require.NoError(t, store.SetSession(ctx, signToken(t, time.Now().Add(time.Hour)), testProfile()))

	var events []bool
	store.OnChange(func(authenticated bool) { events = append(events, authenticated) })

	store.Clear(ctx)
	store.Clear(ctx)

	assert.False(t, store.IsAuthenticated())
	_, err := storage.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = storage.Get(ctx, KeyUser)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []bool{false}, events)
}

func TestPersistenceFailureDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("quota exceeded")
	store := NewStore(&failingStorage{MemoryStorage: NewMemoryStorage(), err: boom}, zerolog.Nop())

	err := store.SetSession(ctx, signToken(t, time.Now().Add(time.Hour)), testProfile())
	assert.ErrorIs(t, err, boom)
	assert.True(t, store.IsAuthenticated())

	require.NotPanics(t, func() { store.Clear(ctx) })
	assert.False(t, store.IsAuthenticated())
}

func TestUpdateTokenKeepsUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, zerolog.Nop())
	assert.ErrorIs(t, store.UpdateToken(ctx, "x"), ErrNoUser)

	require.NoError(t, store.SetSession(ctx, signToken(t, time.Now().Add(time.Minute)), testProfile()))
	next := signToken(t, time.Now().Add(time.Hour))
	require.NoError(t, store.UpdateToken(ctx, next))

	got, _ := store.Token()
	assert.Equal(t, next, got)
	user, ok := store.User()
	require.True(t, ok)
	assert.Equal(t, "u1", user.ID)
}

func TestRememberedLogin(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, zerolog.Nop())
	assert.Empty(t, store.RememberedLogin(ctx))

	require.NoError(t, store.SetRememberedLogin(ctx, "ana@cloudfarm.test"))
	assert.Equal(t, "ana@cloudfarm.test", store.RememberedLogin(ctx))

	store.Clear(ctx)
	assert.Equal(t, "ana@cloudfarm.test", store.RememberedLogin(ctx))

	require.NoError(t, store.SetRememberedLogin(ctx, ""))
	assert.Empty(t, store.RememberedLogin(ctx))
}

func TestOnChangeHooks(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil, zerolog.Nop())

	var calls []string
	remove := store.OnChange(func(authenticated bool) {
		if authenticated {
			calls = append(calls, "first:in")
		} else {
			calls = append(calls, "first:out")
		}
	})
	store.OnChange(func(bool) { panic("bad hook") })
	store.OnChange(func(authenticated bool) {
		if authenticated {
			calls = append(calls, "third:in")
		}
	})

	require.NoError(t, store.SetSession(ctx, signToken(t, time.Now().Add(time.Hour)), testProfile()))
	remove()
	store.Clear(ctx)

	assert.Equal(t, []string{"first:in", "third:in"}, calls)
}

func TestIsAuthenticatedReadsOneSession(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	expired := signToken(t, time.Now().Add(-time.Hour))
	valid := signToken(t, time.Now().Add(time.Hour))
	user := testProfile()

	// Neither state is authenticated on its own: one has a user with an
	// expired token, the other a live token with no user.
	set := func(withUser bool) {
		store.mu.Lock()
		defer store.mu.Unlock()
		if withUser {
			store.token, store.user = expired, &user
		} else {
			store.token, store.user = valid, nil
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				set(i%2 == 0)
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		if store.IsAuthenticated() {
			close(stop)
			wg.Wait()
			t.Fatalf("authenticated with a user and token from different sessions (iteration %d)", i)
		}
	}
	close(stop)
	wg.Wait()
}
