package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/widen0814/VDI/internal/config"
)

// Papéis aceitos no token.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims personalizados de JWT.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken gera um JWT para o usuário autenticado.
func GenerateToken(username, role string, cfg *config.Config) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(time.Duration(cfg.JWTExpMinutes) * time.Minute)
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseToken valida e retorna os claims de um token JWT.
func ParseToken(tokenStr string, cfg *config.Config) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

type identityKey struct{}

// WithIdentity guarda a identidade autenticada no contexto da requisição.
func WithIdentity(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, identityKey{}, c)
}

// IdentityFrom recupera a identidade gravada por WithIdentity.
func IdentityFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(identityKey{}).(*Claims)
	return c, ok
}
