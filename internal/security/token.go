package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cloudfarm/internal/models"
)

var (
	ErrTokenInvalid  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrRefreshWindow = errors.New("token too old to refresh")
)

// AccessClaims is the payload of a CloudFarm bearer token. Clients read exp
// without verifying the signature; everything else is for the server.
type AccessClaims struct {
	UserID    string   `json:"uid"`
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles"`
	FarmID    string   `json:"farm,omitempty"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret        []byte
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

func NewTokenIssuer(secret string, ttl, refreshWindow time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:        []byte(secret),
		ttl:           ttl,
		refreshWindow: refreshWindow,
		now:           time.Now,
	}
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// RefreshWindow is how long after expiry a token may still be exchanged.
func (i *TokenIssuer) RefreshWindow() time.Duration {
	return i.refreshWindow
}

func (i *TokenIssuer) Issue(user models.User, sessionID string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := AccessClaims{
		UserID:    user.ID,
		SessionID: sessionID,
		Roles:     user.Roles,
		FarmID:    user.FarmID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Subject:   user.ID,
			ID:        sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies signature and expiry.
func (i *TokenIssuer) Parse(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, i.checkIdentity(claims)
}

// ParseForRefresh verifies the signature but accepts a token that expired
// less than the refresh window ago.
func (i *TokenIssuer) ParseForRefresh(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}
	if i.now().Sub(claims.ExpiresAt.Time) > i.refreshWindow {
		return nil, ErrRefreshWindow
	}
	return claims, i.checkIdentity(claims)
}

func (i *TokenIssuer) keyFunc(*jwt.Token) (interface{}, error) {
	return i.secret, nil
}

func (i *TokenIssuer) checkIdentity(claims *AccessClaims) error {
	if claims.UserID == "" || claims.SessionID == "" {
		return ErrTokenInvalid
	}
	return nil
}
