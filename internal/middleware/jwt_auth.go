package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

// JWTAuthConfig contains JWT authentication configuration for the admin and
// management surface. Only HMAC signing is supported; workers and operators
// share the secret out of band.
type JWTAuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SecretKey string        `yaml:"secret_key"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// JWTClaims represents the accepted token claims
type JWTClaims struct {
	Subject string   `json:"sub_name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates bearer tokens on the admin and management API
type JWTAuthMiddleware struct {
	config JWTAuthConfig
	logger *logger.Logger
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware. Returns
// nil when authentication is disabled.
func NewJWTAuthMiddleware(config JWTAuthConfig, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if !config.Enabled {
		return nil, nil
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("jwt auth enabled but no secret key configured")
	}
	return &JWTAuthMiddleware{
		config: config,
		logger: log.MiddlewareLogger("jwt_auth"),
	}, nil
}

// Middleware rejects requests without a valid bearer token
func (m *JWTAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.extractToken(r)
		if err != nil {
			m.logger.WithError(err).Warn("Rejected unauthenticated request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := m.validateToken(token); err != nil {
			m.logger.WithError(err).Warn("Rejected invalid token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *JWTAuthMiddleware) extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("malformed authorization header")
	}
	return parts[1], nil
}

func (m *JWTAuthMiddleware) validateToken(tokenString string) error {
	claims := &JWTClaims{}
	parser := jwt.NewParser(jwt.WithLeeway(m.config.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}
