package auth

import (
	"errors"
	"fmt"

	ldap "github.com/go-ldap/ldap/v3"

	"github.com/widen0814/VDI/internal/config"
)

var ErrNotAdminGroup = errors.New("usuário fora do grupo de administradores")

// LDAPAdminAuthenticate autentica um administrador no diretório.
// Com LDAPAdminGroupDN configurado, o usuário precisa ser membro desse grupo.
func LDAPAdminAuthenticate(cfg *config.Config, username, password string) error {
	if password == "" {
		// bind com senha vazia é "unauthenticated bind" e passaria no servidor
		return fmt.Errorf("credenciais inválidas")
	}

	l, err := ldap.DialURL(cfg.LDAPURL)
	if err != nil {
		return fmt.Errorf("erro ao conectar no LDAP: %w", err)
	}
	defer l.Close()

	// bind técnico para a busca
	if err := l.Bind(cfg.LDAPBindDN, cfg.LDAPBindPass); err != nil {
		return fmt.Errorf("erro bind técnico: %w", err)
	}

	sr, err := l.Search(ldap.NewSearchRequest(
		cfg.LDAPBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		adminFilter(username, cfg.LDAPAdminGroupDN),
		[]string{"dn"},
		nil,
	))
	if err != nil {
		return fmt.Errorf("erro ao buscar usuário: %w", err)
	}
	if len(sr.Entries) == 0 && cfg.LDAPAdminGroupDN != "" {
		return ErrNotAdminGroup
	}
	if len(sr.Entries) != 1 {
		return fmt.Errorf("usuário não encontrado ou múltiplos resultados")
	}

	// bind como o próprio usuário para validar a senha
	if err := l.Bind(sr.Entries[0].DN, password); err != nil {
		return fmt.Errorf("credenciais inválidas: %w", err)
	}
	return nil
}

func adminFilter(username, groupDN string) string {
	uid := fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username))
	if groupDN == "" {
		return uid
	}
	return fmt.Sprintf("(&%s(memberOf=%s))", uid, ldap.EscapeFilter(groupDN))
}
