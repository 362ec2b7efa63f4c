package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/widen0814/VDI/internal/config"
)

// Validator confere, a cada requisição, se a identidade do token ainda existe no banco.
type Validator interface {
	UsernameExists(ctx context.Context, name string) (bool, error)
	AdminExists(ctx context.Context, name string) (bool, error)
}

// CookieName devolve o cookie de sessão de cada papel; admin e usuário podem coexistir no navegador.
func CookieName(cfg *config.Config, role string) string {
	if role == RoleAdmin {
		return cfg.CookieName + "_admin"
	}
	return cfg.CookieName
}

// AuthMiddleware valida o JWT (header Authorization: Bearer <token> ou cookie do papel),
// exige o papel informado e revalida a conta/admin no banco a cada requisição.
// Contas removidas perdem o acesso na hora.
func AuthMiddleware(cfg *config.Config, v Validator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := tokenFromRequest(c, CookieName(cfg, role))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token ausente"})
			return
		}
		claims, err := ParseToken(tokenStr, cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token inválido"})
			return
		}
		if claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "acesso negado"})
			return
		}

		var exists bool
		if role == RoleAdmin {
			exists, err = v.AdminExists(c.Request.Context(), claims.Username)
		} else {
			exists, err = v.UsernameExists(c.Request.Context(), claims.Username)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "erro ao validar sessão"})
			return
		}
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sessão não é mais válida"})
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims))
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context, cookieName string) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], true
	}
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}
