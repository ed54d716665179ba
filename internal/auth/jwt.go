package auth

import (
	"fmt"
	"strings"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/pkg/event"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Claims represents JWT claims
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret     string
	TokenDuration time.Duration
	Issuer        string
}

// Service handles token generation and validation.
type Service struct {
	config *Config
}

// NewService creates a new authentication service
func NewService(config *Config) *Service {
	if config.TokenDuration == 0 {
		config.TokenDuration = 24 * time.Hour // Default to 24 hours
	}
	if config.Issuer == "" {
		config.Issuer = "skylift"
	}
	return &Service{config: config}
}

// GenerateToken generates a JWT token for a user
func (s *Service) GenerateToken(userID, username, email string, roles []string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Email:    email,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    s.config.Issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// RefreshToken generates a new token with extended expiration
func (s *Service) RefreshToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("invalid token for refresh: %w", err)
	}

	// Generate new token with same claims but extended expiration
	return s.GenerateToken(claims.UserID, claims.Username, claims.Email, claims.Roles)
}

// userFromClaims projects validated claims onto the dispatch user identity.
func userFromClaims(claims *Claims) *event.User {
	return &event.User{
		ID:    claims.UserID,
		Name:  claims.Username,
		Email: claims.Email,
		Roles: claims.Roles,
		Claims: map[string]any{
			"issuer":  claims.Issuer,
			"subject": claims.Subject,
		},
	}
}

// Hook returns an authenticate hook that validates a Bearer token from the
// Authorization header. A missing header is an authentication failure; use
// OptionalHook for routes that serve anonymous traffic.
func (s *Service) Hook() modules.AuthenticateFunc {
	return func(ec *execution.Context, req *event.Request) (*event.User, error) {
		tokenString, err := bearerToken(req.Header("Authorization"))
		if err != nil {
			return nil, err
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			ec.Log().WithError(err).WithField("path", req.Path).Warn("Token validation failed")
			return nil, fmt.Errorf("invalid or expired token")
		}

		ec.Log().WithFields(logrus.Fields{
			"user_id": claims.UserID,
			"path":    req.Path,
		}).Debug("User authenticated successfully")

		return userFromClaims(claims), nil
	}
}

// OptionalHook returns an authenticate hook that accepts requests without an
// Authorization header as anonymous. Malformed or invalid tokens still fail.
func (s *Service) OptionalHook() modules.AuthenticateFunc {
	return func(ec *execution.Context, req *event.Request) (*event.User, error) {
		header := req.Header("Authorization")
		if header == "" {
			return nil, nil
		}

		tokenString, err := bearerToken(header)
		if err != nil {
			return nil, err
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			ec.Log().WithError(err).WithField("path", req.Path).Debug("Optional token validation failed")
			return nil, fmt.Errorf("invalid or expired token")
		}

		return userFromClaims(claims), nil
	}
}

// FrameHook returns an authenticate hook for WebSocket connections that
// reads the token from the first frame's "token" field or, at handshake
// time, from the query string.
func (s *Service) FrameHook() modules.AuthenticateFunc {
	return func(ec *execution.Context, req *event.Request) (*event.User, error) {
		tokenString := req.QueryParams["token"]
		if tokenString == "" && len(req.Body) > 0 {
			tokenString = gjson.GetBytes(req.Body, "token").String()
		}
		if tokenString == "" {
			return nil, fmt.Errorf("no token presented")
		}

		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			ec.Log().WithError(err).Warn("Connection token validation failed")
			return nil, fmt.Errorf("invalid or expired token")
		}

		return userFromClaims(claims), nil
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("authorization header is required")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header format, expected: Bearer <token>")
	}
	return parts[1], nil
}

// HasRole checks whether the user carries a specific role.
func HasRole(user *event.User, role string) bool {
	if user == nil {
		return false
	}
	for _, r := range user.Roles {
		if r == role {
			return true
		}
	}
	return false
}
