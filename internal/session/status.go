package session

import (
	"context"
	"time"

	"github.com/widen0814/VDI/internal/models"
)

// Label é o status exibido para cada conta.
type Label string

const (
	Online  Label = "ONLINE"
	Offline Label = "OFFLINE"
)

// Textos fixos da coluna "último acesso".
const (
	StatusCurrentlyLoggedIn = "conectado agora"
	StatusNoPriorSession    = "nenhuma sessão anterior"
)

const displayLayout = "2006-01-02 15:04:05"

// Status combina o estado do pod com o ledger.
type Status struct {
	Label  Label  `json:"label"`
	Recent string `json:"recent"`
}

// DeriveStatus: o pod rodando é quem decide ONLINE/OFFLINE, não a flag do ledger.
// O texto segue a precedência: conectado agora > logout > login > nenhuma sessão.
func (s *Service) DeriveStatus(ctx context.Context, acc *models.Account) Status {
	running := s.reconciler.IsRunning(ctx, acc.Username)
	return deriveStatus(running, acc, s.location)
}

func deriveStatus(running bool, acc *models.Account, loc *time.Location) Status {
	st := Status{Label: Offline}
	if running {
		st.Label = Online
	}

	switch {
	case running && acc.IsLoggedIn:
		st.Recent = StatusCurrentlyLoggedIn
	case acc.LastLogoutAt != nil:
		st.Recent = acc.LastLogoutAt.In(loc).Format(displayLayout)
	case acc.LastLoginAt != nil:
		st.Recent = acc.LastLoginAt.In(loc).Format(displayLayout)
	default:
		st.Recent = StatusNoPriorSession
	}
	return st
}
