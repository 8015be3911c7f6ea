// Package token issues and verifies the hub's signed credentials.
//
// Tokens are stateless: the hub keeps no session table, so it can restart
// without losing the ability to verify already-issued tokens. The flip side
// is that a single token cannot be revoked before its natural expiry;
// rotating an agent's shared secret only affects new issuance.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any verification failure: bad signature,
// expiry, wrong signing method, or a refresh token presented where an
// access token is required. Callers must not rely on distinguishing the
// cases.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the payload embedded in every token.
type Identity struct {
	AgentID  string
	OrgID    string
	Name     string
	Category string
}

// Claims is the JWT claim set carried by hub tokens.
type Claims struct {
	AgentID  string `json:"agent_id"`
	OrgID    string `json:"org_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies access and refresh tokens with a shared
// HMAC secret.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService creates a token service. accessTTL and refreshTTL bound the
// lifetimes of the two token kinds (typically 15m and 1h).
func NewService(secret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueAccessToken signs a short-lived access token for the identity.
func (s *Service) IssueAccessToken(id Identity) (string, error) {
	return s.issue(id, false, s.accessTTL)
}

// IssueRefreshToken signs a longer-lived refresh token for the identity.
// Refresh tokens are only good for minting new access tokens; they are
// rejected everywhere an access token is expected.
func (s *Service) IssueRefreshToken(id Identity) (string, error) {
	return s.issue(id, true, s.refreshTTL)
}

func (s *Service) issue(id Identity, refresh bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AgentID:  id.AgentID,
		OrgID:    id.OrgID,
		Name:     id.Name,
		Category: id.Category,
		Refresh:  refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks an access token and returns its identity payload.
// Refresh tokens fail here: the refresh marker exists precisely so a
// long-lived token cannot be replayed as a session credential.
func (s *Service) Verify(tokenString string) (Identity, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return Identity{}, err
	}
	if claims.Refresh {
		return Identity{}, ErrInvalidToken
	}
	return claims.identity(), nil
}

// Refresh verifies a refresh token and mints a fresh access token carrying
// the same identity payload. The refresh token itself is not rotated.
func (s *Service) Refresh(refreshToken string) (string, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return "", err
	}
	if !claims.Refresh {
		return "", ErrInvalidToken
	}
	return s.IssueAccessToken(claims.identity())
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Claims) identity() Identity {
	return Identity{
		AgentID:  c.AgentID,
		OrgID:    c.OrgID,
		Name:     c.Name,
		Category: c.Category,
	}
}
