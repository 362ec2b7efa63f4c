package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/widen0814/VDI/internal/auth"
	"github.com/widen0814/VDI/internal/k8s"
	"github.com/widen0814/VDI/internal/ledger"
	"github.com/widen0814/VDI/internal/lock"
)

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type loginResponse struct {
	Token      string            `json:"token"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Username   string            `json:"username"`
	Workload   string            `json:"workload"`
	Status     k8s.SessionStatus `json:"status"`
	URL        string            `json:"url"`
	DesktopURL string            `json:"desktopUrl"`
}

func loginHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload inválido"})
			return
		}

		sess, ok, err := env.Sessions.Login(c.Request.Context(), req.Username, req.Password)
		switch {
		case errors.Is(err, lock.ErrLocked):
			c.JSON(http.StatusConflict, gin.H{"error": "sessão sendo preparada, tente novamente"})
			return
		case errors.Is(err, k8s.ErrWorkloadTerminating):
			c.JSON(http.StatusConflict, gin.H{"error": "sessão anterior ainda encerrando, tente novamente"})
			return
		case err != nil && !ok:
			env.Log.Error("erro ao autenticar", zap.String("username", req.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao autenticar"})
			return
		case !ok:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "credenciais inválidas"})
			return
		case err != nil:
			env.Log.Error("erro ao preparar desktop", zap.String("username", req.Username), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "erro ao preparar desktop"})
			return
		}

		token, exp, err := auth.GenerateToken(req.Username, auth.RoleUser, env.Cfg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao gerar token"})
			return
		}
		setSessionCookie(c, env, auth.RoleUser, token, exp)

		c.JSON(http.StatusOK, loginResponse{
			Token:      token,
			ExpiresAt:  exp,
			Username:   req.Username,
			Workload:   sess.WorkloadName,
			Status:     sess.Status,
			URL:        "/desktop",
			DesktopURL: sess.URL,
		})
	}
}

func logoutHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := identity(c)
		if err := env.Sessions.Logout(c.Request.Context(), claims.Username); err != nil && !errors.Is(err, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao registrar logout"})
			return
		}
		clearSessionCookie(c, env, auth.RoleUser)
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}

func terminateHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := identity(c)
		env.Sessions.TerminateSession(c.Request.Context(), claims.Username)
		clearSessionCookie(c, env, auth.RoleUser)
		c.JSON(http.StatusOK, gin.H{"status": "terminated"})
	}
}

// desktopHandler redireciona para o noVNC do pod do usuário.
func desktopHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := identity(c)
		url, err := env.Sessions.DesktopURL(c.Request.Context(), claims.Username)
		if err != nil {
			env.Log.Warn("desktop indisponível", zap.String("username", claims.Username), zap.Error(err))
			c.JSON(http.StatusNotFound, gin.H{"error": "sessão não encontrada"})
			return
		}
		c.Redirect(http.StatusFound, url)
	}
}

func meHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := identity(c)
		st, err := env.Sessions.StatusFor(c.Request.Context(), claims.Username)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conta não encontrada"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"username": claims.Username,
			"role":     claims.Role,
			"status":   st.Label,
			"recent":   st.Recent,
		})
	}
}

// identity lê a identidade que o AuthMiddleware gravou no contexto da requisição.
func identity(c *gin.Context) *auth.Claims {
	claims, _ := auth.IdentityFrom(c.Request.Context())
	return claims
}

func setSessionCookie(c *gin.Context, env *Env, role, token string, exp time.Time) {
	maxAge := int(time.Until(exp).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName(env.Cfg, role), token, maxAge, "/", "", env.Cfg.CookieSecure, true)
}

func clearSessionCookie(c *gin.Context, env *Env, role string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName(env.Cfg, role), "", -1, "/", "", env.Cfg.CookieSecure, true)
}
