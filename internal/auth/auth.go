package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	defaultSecret = "default-secret-key-change-in-production"
	defaultIssuer = "fleet-trip-engine"
)

// Claims are the fields carried by a service token.
type Claims struct {
	Service string
	Scope   string
	Exp     int64
}

// Service issues and checks the tokens the engine presents to collaborator services.
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	issuer    string
}

// NewService creates a token service. An empty secret falls back to a development default.
func NewService(secret string, exp time.Duration) *Service {
	if secret == "" {
		secret = defaultSecret
	}
	if exp <= 0 {
		exp = 5 * time.Minute
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  exp,
		issuer:    defaultIssuer,
	}
}

// GenerateToken generates a short-lived token for calling the named service with scope.
func (s *Service) GenerateToken(service, scope string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":     s.issuer,
		"service": service,
		"scope":   scope,
		"exp":     now.Add(s.tokenExp).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	service, ok := claims["service"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	scope, ok := claims["scope"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Service: service,
		Scope:   scope,
		Exp:     int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}
