package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/models"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/security"
	"cloudfarm/internal/storage"
	"cloudfarm/internal/wire"
)

var fastArgon = security.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type recordingPublisher struct {
	mu     sync.Mutex
	events []wire.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env wire.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type+"@"+e.Channel)
	}
	return out
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return "1-0", nil
}

type fixture struct {
	mem     *repository.Memory
	tokens  *security.TokenIssuer
	auth    *AuthService
	talhoes *TalhaoService
	images  *ImageService
	pub     *recordingPublisher
	queue   *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repository.NewMemory()
	tokens := security.NewTokenIssuer("test-secret", time.Minute, time.Hour)
	pub := &recordingPublisher{}
	q := &recordingQueue{}
	log := zerolog.Nop()

	talhoes := NewTalhaoService(mem.Talhoes(), pub, log)
	return &fixture{
		mem:     mem,
		tokens:  tokens,
		auth:    NewAuthService(mem.Users(), mem.Sessions(), tokens, 2, log),
		talhoes: talhoes,
		images:  NewImageService(talhoes, mem.Images(), storage.NewMemoryObjects("/objects"), q, pub, log),
		pub:     pub,
		queue:   q,
	}
}

func (f *fixture) addUser(t *testing.T, id, email, password, farm string, roles ...string) models.User {
	t.Helper()
	hash, err := security.HashPasswordWithParams(password, fastArgon)
	require.NoError(t, err)
	user := models.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Name:         "User " + id,
		Roles:        roles,
		FarmID:       farm,
		Status:       models.UserStatusActive,
	}
	require.NoError(t, f.mem.Users().Create(context.Background(), user))
	return user
}
