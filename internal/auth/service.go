package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/huddle-server/internal/core"
)

var (
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when a token fails validation or carries no user.
	ErrInvalidToken = errors.New("invalid token")
)

// Service turns session tokens into connection identities.
type Service struct {
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{jwtConfig: jwtConfig}
}

// Authenticate validates tokenString and returns the identity it names.
func (s *Service) Authenticate(tokenString string) (*core.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}

	name := strings.TrimSpace(claims.Username)
	if name == "" {
		name = fmt.Sprintf("user-%d", claims.UserID)
	}
	return &core.Identity{
		UserID:   claims.UserID,
		UserName: name,
		Role:     core.ParseRole(claims.Role),
	}, nil
}

// IssueToken signs a token for identity. Used by the token command and tests.
func (s *Service) IssueToken(identity core.Identity) (string, error) {
	if identity.UserID <= 0 {
		return "", errors.New("user id must be positive")
	}
	role := identity.Role
	if role == "" {
		role = core.RoleUser
	}
	token, err := GenerateToken(s.jwtConfig, identity.UserID, identity.UserName, string(role))
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}
