package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"objectos/internal/permission"
)

// Claims is the ObjectOS token payload: standard registered claims plus the
// permission profile assignment.
type Claims struct {
	Profiles       []string `json:"profiles,omitempty"`
	OrganizationID string   `json:"organizationId,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 tokens. It is registered as the "auth"
// service; the HTTP layer uses it for bearer-token middleware.
type Service struct {
	opts Options
	now  func() time.Time
}

// NewService creates a token service. An enabled service requires a secret.
func NewService(opts Options) (*Service, error) {
	if opts.Enabled && opts.Secret == "" {
		return nil, fmt.Errorf("auth is enabled but no JWT secret is configured (set %s)", "OBJECTOS_JWT_SECRET")
	}
	if opts.Issuer == "" {
		opts.Issuer = "objectos"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Service{opts: opts, now: time.Now}, nil
}

// Enabled reports whether bearer tokens are enforced at the HTTP boundary.
func (s *Service) Enabled() bool {
	return s.opts.Enabled
}

// IssueToken mints a signed token for a user.
func (s *Service) IssueToken(userID string, profiles []string, organizationID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("userId must not be empty")
	}
	if s.opts.Secret == "" {
		return "", fmt.Errorf("no JWT secret configured")
	}

	now := s.now()
	claims := &Claims{
		Profiles:       profiles,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
}

// VerifyToken parses and validates a token, enforcing the signing method
// and issuer.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(*jwt.Token) (interface{}, error) { return []byte(s.opts.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// PermissionContext maps verified claims onto the permission engine's
// caller context.
func (s *Service) PermissionContext(claims *Claims) permission.Context {
	return permission.Context{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Profiles:       claims.Profiles,
	}
}
