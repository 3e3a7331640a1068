package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudfarm/internal/models"
)

// Memory implements every store on top of maps. It backs the API when no
// database is configured and is what the service tests run against.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]models.User
	sessions map[string]models.Session
	talhoes  map[string]models.Talhao
	images   map[string][]models.TalhaoImage
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
		talhoes:  make(map[string]models.Talhao),
		images:   make(map[string][]models.TalhaoImage),
	}
}

func (m *Memory) Users() UserStore       { return memoryUsers{m} }
func (m *Memory) Sessions() SessionStore { return memorySessions{m} }
func (m *Memory) Talhoes() TalhaoStore   { return memoryTalhoes{m} }
func (m *Memory) Images() ImageStore     { return memoryImages{m} }

type memoryUsers struct{ m *Memory }

func (s memoryUsers) Create(_ context.Context, user models.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrUserExists
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	s.m.users[user.ID] = user
	return nil
}

func (s memoryUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, u := range s.m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (s memoryUsers) GetByID(_ context.Context, id string) (models.User, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	u, ok := s.m.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s memoryUsers) UpdateStatus(_ context.Context, id string, status models.UserStatus) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.m.users[id] = u
	return nil
}

type memorySessions struct{ m *Memory }

func (s memorySessions) Create(_ context.Context, session models.Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.m.sessions {
		if existing.UserID == session.UserID && existing.DeviceID == session.DeviceID {
			session.CreatedAt = existing.CreatedAt
			delete(s.m.sessions, id)
		}
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.LastSeenAt = now
	s.m.sessions[session.ID] = session
	return nil
}

func (s memorySessions) GetByID(_ context.Context, id string) (models.Session, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	session, ok := s.m.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s memorySessions) DeleteByID(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.m.sessions, id)
	return nil
}

func (s memorySessions) Touch(_ context.Context, id string, expiresAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	session, ok := s.m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastSeenAt = time.Now().UTC()
	if expiresAt.After(session.ExpiresAt) {
		session.ExpiresAt = expiresAt
	}
	s.m.sessions[id] = session
	return nil
}

func (s memorySessions) CountByUser(_ context.Context, userID string) (int, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	count := 0
	for _, session := range s.m.sessions {
		if session.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s memorySessions) DeleteOldestSessions(_ context.Context, userID string, keepLatest int) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var owned []models.Session
	for _, session := range s.m.sessions {
		if session.UserID == userID {
			owned = append(owned, session)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].LastSeenAt.After(owned[j].LastSeenAt)
	})
	if keepLatest < 0 {
		keepLatest = 0
	}
	for i := keepLatest; i < len(owned); i++ {
		delete(s.m.sessions, owned[i].ID)
	}
	return nil
}

func (s memorySessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var removed int64
	for id, session := range s.m.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

type memoryTalhoes struct{ m *Memory }

func (s memoryTalhoes) List(_ context.Context, filter TalhaoFilter) ([]models.Talhao, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	talhoes := []models.Talhao{}
	for _, t := range s.m.talhoes {
		if filter.FazendaID != "" && t.FazendaID != filter.FazendaID {
			continue
		}
		if filter.Cultura != "" && t.Cultura != filter.Cultura {
			continue
		}
		talhoes = append(talhoes, t)
	}
	sort.Slice(talhoes, func(i, j int) bool {
		if talhoes[i].Nome != talhoes[j].Nome {
			return talhoes[i].Nome < talhoes[j].Nome
		}
		return talhoes[i].ID < talhoes[j].ID
	})
	return talhoes, nil
}

func (s memoryTalhoes) Get(_ context.Context, id string) (models.Talhao, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.talhoes[id]
	if !ok {
		return models.Talhao{}, ErrTalhaoNotFound
	}
	return t, nil
}

func (s memoryTalhoes) Create(_ context.Context, t models.Talhao) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.talhoes[t.ID] = t
	return nil
}

func (s memoryTalhoes) Update(_ context.Context, t models.Talhao) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	existing, ok := s.m.talhoes[t.ID]
	if !ok {
		return ErrTalhaoNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.FazendaID = existing.FazendaID
	s.m.talhoes[t.ID] = t
	return nil
}

func (s memoryTalhoes) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.talhoes[id]; !ok {
		return ErrTalhaoNotFound
	}
	delete(s.m.talhoes, id)
	delete(s.m.images, id)
	return nil
}

type memoryImages struct{ m *Memory }

func (s memoryImages) Create(_ context.Context, talhaoID string, image models.TalhaoImage) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.talhoes[talhaoID]; !ok {
		return ErrTalhaoNotFound
	}
	s.m.images[talhaoID] = append(s.m.images[talhaoID], image)
	return nil
}

func (s memoryImages) ListByTalhao(_ context.Context, talhaoID string) ([]models.TalhaoImage, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	images := append([]models.TalhaoImage{}, s.m.images[talhaoID]...)
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].UploadedAt.After(images[j].UploadedAt)
	})
	return images, nil
}

func (s memoryImages) UpdateObject(_ context.Context, key string, contentType string, size int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for talhaoID, images := range s.m.images {
		for i := range images {
			if images[i].Key != key {
				continue
			}
			if contentType != "" {
				images[i].ContentType = contentType
			}
			images[i].Size = size
			s.m.images[talhaoID] = images
			return nil
		}
	}
	return nil
}
