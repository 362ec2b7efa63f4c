package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/widen0814/VDI/internal/auth"
	"github.com/widen0814/VDI/internal/config"
	"github.com/widen0814/VDI/internal/k8s"
	"github.com/widen0814/VDI/internal/metrics"
	"github.com/widen0814/VDI/internal/session"
)

// Inspector expõe as visões de administração sobre os objetos do cluster.
type Inspector interface {
	SessionGraph(ctx context.Context) (*k8s.SessionGraph, error)
	WorkloadYAML(ctx context.Context, user string) (string, error)
	EndpointYAML(ctx context.Context, user string) (string, error)
	WorkloadLogs(ctx context.Context, user string, tailLines int64) ([]string, error)
}

// Dashboard produz o resumo de CPU e memória do painel.
type Dashboard interface {
	Dashboard(ctx context.Context) metrics.Summary
}

// Env reúne as dependências dos handlers.
type Env struct {
	Cfg       *config.Config
	Sessions  *session.Service
	Inspector Inspector
	Metrics   Dashboard
	Log       *zap.Logger
}

// RegisterRoutes registra as rotas do usuário, do painel de administração e o healthcheck.
func RegisterRoutes(r *gin.Engine, env *Env) {
	validator := env.Sessions.Ledger()
	userAuth := auth.AuthMiddleware(env.Cfg, validator, auth.RoleUser)
	adminAuth := auth.AuthMiddleware(env.Cfg, validator, auth.RoleAdmin)

	// Sessão do usuário
	r.POST("/login", loginHandler(env))
	userGroup := r.Group("")
	userGroup.Use(userAuth)
	{
		userGroup.POST("/logout", logoutHandler(env))
		userGroup.POST("/terminate", terminateHandler(env))
		userGroup.GET("/desktop", desktopHandler(env))
		userGroup.GET("/me", meHandler(env))
	}

	// Administração
	r.POST("/admin/login", adminLoginHandler(env))
	admin := r.Group("/admin")
	admin.Use(adminAuth)
	{
		admin.POST("/logout", adminLogoutHandler(env))
		admin.GET("/dashboard", dashboardHandler(env))

		admin.GET("/accounts", listAccountsHandler(env))
		admin.POST("/accounts", createAccountHandler(env))
		admin.GET("/accounts/check", checkUsernameHandler(env))
		admin.GET("/accounts/:username/status", accountStatusHandler(env))
		admin.PUT("/accounts/:username/password", changePasswordHandler(env))
		admin.POST("/accounts/:username/terminate", adminTerminateHandler(env))
		admin.DELETE("/accounts/:username", deleteAccountHandler(env))

		admin.GET("/sessions/graph", sessionGraphHandler(env))
		admin.GET("/accounts/:username/workload", workloadYAMLHandler(env))
		admin.GET("/accounts/:username/endpoint", endpointYAMLHandler(env))
		admin.GET("/accounts/:username/logs", workloadLogsHandler(env))
	}

	// Healthcheck simples
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
