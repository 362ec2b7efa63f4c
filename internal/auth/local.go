package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/widen0814/VDI/internal/config"
)

// AuthenticateLocal valida o admin de manutenção (break-glass) configurado por env,
// com senha em bcrypt gerada pelo cmd/hashgen.
func AuthenticateLocal(cfg *config.Config, username, password string) bool {
	if !cfg.EnableLocalLogin {
		return false
	}
	if cfg.LocalAdminUser == "" || cfg.LocalAdminPasswordHash == "" {
		return false
	}
	if username != cfg.LocalAdminUser {
		return false
	}

	err := bcrypt.CompareHashAndPassword(
		[]byte(cfg.LocalAdminPasswordHash),
		[]byte(password),
	)
	return err == nil
}
