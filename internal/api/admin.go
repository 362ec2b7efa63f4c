package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/widen0814/VDI/internal/auth"
	"github.com/widen0814/VDI/internal/ledger"
	"github.com/widen0814/VDI/internal/models"
)

const defaultLogTail = 100

// =================================================================================
// ADMIN SESSION
// =================================================================================

func adminLoginHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload inválido"})
			return
		}
		ctx := c.Request.Context()
		l := env.Sessions.Ledger()

		var source string
		switch {
		case auth.AuthenticateLocal(env.Cfg, req.Username, req.Password):
			source = models.AdminSourceBreakGlass
		case env.Cfg.AdminAuthMode == "ldap":
			if err := auth.LDAPAdminAuthenticate(env.Cfg, req.Username, req.Password); err != nil {
				env.Log.Warn("login LDAP recusado", zap.String("username", req.Username), zap.Error(err))
				c.JSON(http.StatusUnauthorized, gin.H{"error": "credenciais inválidas"})
				return
			}
			source = models.AdminSourceLDAP
		default:
			ok, err := l.AuthenticateAdmin(ctx, req.Username, req.Password)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao autenticar"})
				return
			}
			if !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "credenciais inválidas"})
				return
			}
			source = models.AdminSourceLocal
		}

		// admins externos ganham linha na tabela para a revalidação por requisição
		if source != models.AdminSourceLocal {
			if err := l.EnsureAdmin(ctx, req.Username, source); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao registrar admin"})
				return
			}
		}

		token, exp, err := auth.GenerateToken(req.Username, auth.RoleAdmin, env.Cfg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao gerar token"})
			return
		}
		setSessionCookie(c, env, auth.RoleAdmin, token, exp)
		env.Log.Info("login admin", zap.String("username", req.Username), zap.String("source", source))

		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"expiresAt": exp,
			"username":  req.Username,
			"role":      auth.RoleAdmin,
		})
	}
}

func adminLogoutHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		clearSessionCookie(c, env, auth.RoleAdmin)
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}

// dashboardHandler junta métricas e contas. Métrica indisponível vira zero, nunca erro.
func dashboardHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := identity(c)
		summary := env.Metrics.Dashboard(c.Request.Context())

		rows, err := env.Sessions.AccountRows(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao listar contas"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"admin":    claims.Username,
			"cpu":      summary.CPU,
			"memory":   summary.Memory,
			"accounts": rows,
		})
	}
}

// =================================================================================
// ACCOUNTS
// =================================================================================

type createAccountRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type changePasswordRequest struct {
	Password string `json:"password" form:"password" binding:"required"`
}

func listAccountsHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := env.Sessions.AccountRows(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao listar contas"})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func createAccountHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload inválido"})
			return
		}

		acc, err := env.Sessions.Ledger().CreateAccount(c.Request.Context(), req.Username, req.Password)
		switch {
		case errors.Is(err, ledger.ErrAccountExists):
			c.JSON(http.StatusConflict, gin.H{"error": "usuário já existe"})
			return
		case errors.Is(err, ledger.ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao criar conta"})
			return
		}

		env.Log.Info("conta criada", zap.String("username", acc.Username))
		c.JSON(http.StatusCreated, gin.H{"username": acc.Username})
	}
}

func checkUsernameHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("username")
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username é obrigatório"})
			return
		}
		exists, err := env.Sessions.Ledger().UsernameExists(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao consultar conta"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"exists": exists})
	}
}

func accountStatusHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("username")
		st, err := env.Sessions.StatusFor(c.Request.Context(), name)
		if err != nil {
			respondAccountError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": name, "status": st.Label, "recent": st.Recent})
	}
}

func changePasswordHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload inválido"})
			return
		}
		if err := env.Sessions.Ledger().ChangePassword(c.Request.Context(), c.Param("username"), req.Password); err != nil {
			respondAccountError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func adminTerminateHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		env.Sessions.TerminateSession(c.Request.Context(), c.Param("username"))
		c.Status(http.StatusNoContent)
	}
}

func deleteAccountHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := env.Sessions.DeleteAccount(c.Request.Context(), c.Param("username")); err != nil {
			respondAccountError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func respondAccountError(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conta não encontrada"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao acessar conta"})
}

// =================================================================================
// INSPEÇÃO (GRAFO, YAML & LOGS)
// =================================================================================

func sessionGraphHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		graph, err := env.Inspector.SessionGraph(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao montar grafo: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, graph)
	}
}

func workloadYAMLHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := env.Inspector.WorkloadYAML(c.Request.Context(), c.Param("username"))
		respondYAML(c, out, err)
	}
}

func endpointYAMLHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := env.Inspector.EndpointYAML(c.Request.Context(), c.Param("username"))
		respondYAML(c, out, err)
	}
}

func respondYAML(c *gin.Context, out string, err error) {
	if apierrors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "recurso não encontrado"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao buscar YAML: " + err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", []byte(out))
}

func workloadLogsHandler(env *Env) gin.HandlerFunc {
	return func(c *gin.Context) {
		tail := int64(defaultLogTail)
		if tailStr := c.Query("tail"); tailStr != "" {
			if t, err := strconv.ParseInt(tailStr, 10, 64); err == nil && t > 0 {
				tail = t
			}
		}

		lines, err := env.Inspector.WorkloadLogs(c.Request.Context(), c.Param("username"), tail)
		if apierrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "pod não encontrado"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "erro ao buscar logs: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lines": lines})
	}
}
