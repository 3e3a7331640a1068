package models

import "time"

const (
	RoleAdmin    = "admin"
	RoleGerente  = "gerente"
	RoleOperador = "operador"
	RoleViewer   = "visualizador"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// Profile is the user record shared with clients. It is what the session store
// persists next to the bearer token.
type Profile struct {
	ID     string   `json:"id"`
	Name   string   `json:"nome"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	FarmID string   `json:"fazenda_id,omitempty"`
}

func (p Profile) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	Name         string
	Roles        []string
	FarmID       string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Profile() Profile {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return Profile{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Roles:  roles,
		FarmID: u.FarmID,
	}
}

type Session struct {
	ID         string
	UserID     string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}
