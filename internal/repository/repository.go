package repository

import (
	"context"
	"errors"
	"time"

	"cloudfarm/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("email already registered")
	ErrSessionNotFound = errors.New("session not found")
	ErrTalhaoNotFound  = errors.New("talhao not found")
)

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteOldestSessions(ctx context.Context, userID string, keepLatest int) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TalhaoFilter narrows List. Empty fields match everything.
type TalhaoFilter struct {
	FazendaID string
	Cultura   string
}

type TalhaoStore interface {
	List(ctx context.Context, filter TalhaoFilter) ([]models.Talhao, error)
	Get(ctx context.Context, id string) (models.Talhao, error)
	Create(ctx context.Context, talhao models.Talhao) error
	Update(ctx context.Context, talhao models.Talhao) error
	Delete(ctx context.Context, id string) error
}

type ImageStore interface {
	Create(ctx context.Context, talhaoID string, image models.TalhaoImage) error
	ListByTalhao(ctx context.Context, talhaoID string) ([]models.TalhaoImage, error)
	UpdateObject(ctx context.Context, key string, contentType string, size int64) error
}
