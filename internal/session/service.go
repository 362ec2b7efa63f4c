package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/widen0814/VDI/internal/k8s"
	"github.com/widen0814/VDI/internal/ledger"
	"github.com/widen0814/VDI/internal/lock"
)

// Reconciler é o que o serviço precisa do lado do Kubernetes.
type Reconciler interface {
	EnsureSession(ctx context.Context, user string, spec k8s.WorkloadSpec) (*k8s.Session, error)
	EndpointURL(ctx context.Context, user string) (string, error)
	DeleteWorkload(ctx context.Context, user string) error
	IsRunning(ctx context.Context, user string) bool
}

// Service liga o Reconciler ao Ledger: login cria a sessão e grava o horário,
// terminate derruba o pod e grava o logout.
type Service struct {
	ledger     *ledger.Ledger
	reconciler Reconciler
	locker     lock.Locker
	location   *time.Location
	fallback   k8s.WorkloadSpec
	log        *zap.Logger
}

// Config agrupa as dependências opcionais do Service.
type Config struct {
	Locker   lock.Locker
	Location *time.Location
	// Fallback é usado quando a tabela images não tem a imagem padrão.
	Fallback k8s.WorkloadSpec
}

func NewService(l *ledger.Ledger, r Reconciler, cfg Config, log *zap.Logger) *Service {
	if cfg.Locker == nil {
		cfg.Locker = lock.Noop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		ledger:     l,
		reconciler: r,
		locker:     cfg.Locker,
		location:   cfg.Location,
		fallback:   cfg.Fallback,
		log:        log,
	}
}

// Login autentica, garante pod + service e registra o login.
// Credencial errada devolve ok=false sem erro.
func (s *Service) Login(ctx context.Context, user, password string) (*k8s.Session, bool, error) {
	ok, err := s.ledger.Authenticate(ctx, user, password)
	if err != nil || !ok {
		return nil, false, err
	}

	sess, err := s.EnsureSession(ctx, user)
	if err != nil {
		return nil, true, err
	}

	if err := s.ledger.RecordLogin(ctx, user); err != nil {
		return nil, true, err
	}

	s.log.Info("login", zap.String("username", user), zap.String("status", string(sess.Status)))
	return sess, true, nil
}

// EnsureSession chama o Reconciler sob o lock do usuário.
func (s *Service) EnsureSession(ctx context.Context, user string) (*k8s.Session, error) {
	unlock, err := s.locker.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.reconciler.EnsureSession(ctx, user, s.workloadSpec(ctx))
}

func (s *Service) workloadSpec(ctx context.Context) k8s.WorkloadSpec {
	img, err := s.ledger.DefaultImage(ctx)
	if err != nil {
		s.log.Debug("usando imagem da configuração", zap.Error(err))
		return s.fallback
	}
	return k8s.WorkloadSpec{
		Image:   img.ImageRef,
		WebPort: int32(img.WebPort),
		VNCPort: int32(img.VNCPort),
	}
}

// Logout só atualiza o ledger; o pod continua vivo até o terminate.
func (s *Service) Logout(ctx context.Context, user string) error {
	return s.ledger.RecordLogout(ctx, user)
}

// TerminateSession garante o usuário offline. Nunca falha para o chamador:
// pod inexistente é sucesso e outros erros só vão para o log.
func (s *Service) TerminateSession(ctx context.Context, user string) {
	if err := s.reconciler.DeleteWorkload(ctx, user); err != nil {
		s.log.Error("erro ao remover pod da sessão", zap.String("username", user), zap.Error(err))
	}
	if err := s.ledger.RecordLogout(ctx, user); err != nil {
		s.log.Warn("erro ao registrar logout", zap.String("username", user), zap.Error(err))
	}
	s.log.Info("sessão encerrada", zap.String("username", user))
}

func (s *Service) IsRunning(ctx context.Context, user string) bool {
	return s.reconciler.IsRunning(ctx, user)
}

// DesktopURL devolve a URL do desktop do usuário.
func (s *Service) DesktopURL(ctx context.Context, user string) (string, error) {
	return s.reconciler.EndpointURL(ctx, user)
}

// DeleteAccount derruba a sessão e remove a conta.
// Conta inexistente devolve ErrAccountNotFound sem tocar no cluster.
func (s *Service) DeleteAccount(ctx context.Context, user string) error {
	exists, err := s.ledger.UsernameExists(ctx, user)
	if err != nil {
		return err
	}
	if !exists {
		return ledger.ErrAccountNotFound
	}

	s.TerminateSession(ctx, user)
	if err := s.ledger.DeleteAccount(ctx, user); err != nil {
		return err
	}
	s.log.Info("conta removida", zap.String("username", user))
	return nil
}

// AccountRow é uma linha da tabela de contas do painel.
type AccountRow struct {
	Username   string `json:"username"`
	Status     Label  `json:"status"`
	Recent     string `json:"recent"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// AccountRows lista as contas na ordem de exibição com o status de cada uma.
func (s *Service) AccountRows(ctx context.Context) ([]AccountRow, error) {
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]AccountRow, 0, len(accounts))
	for i := range accounts {
		st := s.DeriveStatus(ctx, &accounts[i])
		rows = append(rows, AccountRow{
			Username:   accounts[i].Username,
			Status:     st.Label,
			Recent:     st.Recent,
			IsLoggedIn: accounts[i].IsLoggedIn,
		})
	}
	return rows, nil
}

// StatusFor busca a conta e deriva o status.
func (s *Service) StatusFor(ctx context.Context, user string) (Status, error) {
	acc, err := s.ledger.GetAccount(ctx, user)
	if err != nil {
		return Status{}, err
	}
	return s.DeriveStatus(ctx, acc), nil
}

// Ledger expõe o ledger para os handlers de administração.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }
