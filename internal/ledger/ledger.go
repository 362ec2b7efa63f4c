package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/widen0814/VDI/internal/models"
	"github.com/widen0814/VDI/internal/username"
)

var (
	ErrAccountExists   = errors.New("conta já existe")
	ErrAccountNotFound = errors.New("conta não encontrada")
	ErrInvalidUsername = username.ErrInvalid
)

// Ledger persiste contas, administradores e o histórico de login/logout.
// Cada mutação é um único UPDATE/INSERT, sem transações longas.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New cria um Ledger sobre a conexão gorm informada.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithClock troca a fonte de tempo (testes).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CreateAccount cria uma conta nova com is_logged_in = false.
func (l *Ledger) CreateAccount(ctx context.Context, name, password string) (*models.Account, error) {
	if err := username.Validate(name); err != nil {
		return nil, err
	}
	exists, err := l.UsernameExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAccountExists
	}

	acc := &models.Account{Username: name, Password: password}
	if err := l.insertAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// insertAccount grava a conta; a unique de username cobre quem passou pela pré-checagem ao mesmo tempo.
func (l *Ledger) insertAccount(ctx context.Context, acc *models.Account) error {
	if err := l.db.WithContext(ctx).Create(acc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAccountExists
		}
		return fmt.Errorf("erro ao criar conta: %w", err)
	}
	return nil
}

// UsernameExists informa se já existe conta com esse nome.
func (l *Ledger) UsernameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.Account{}).Where("username = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("erro ao consultar conta: %w", err)
	}
	return count > 0, nil
}

// GetAccount busca uma conta pelo nome.
func (l *Ledger) GetAccount(ctx context.Context, name string) (*models.Account, error) {
	var acc models.Account
	err := l.db.WithContext(ctx).Where("username = ?", name).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar conta: %w", err)
	}
	return &acc, nil
}

// Authenticate compara a senha como texto opaco.
// Senha errada ou conta inexistente não é erro: retorna false.
func (l *Ledger) Authenticate(ctx context.Context, name, password string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Account{}).
		Where("username = ? AND password = ?", name, password).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("erro ao autenticar conta: %w", err)
	}
	return count > 0, nil
}

// ChangePassword troca a senha de uma conta existente.
func (l *Ledger) ChangePassword(ctx context.Context, name, password string) error {
	return l.update(ctx, name, map[string]any{"password": password})
}

// DeleteAccount remove a linha da conta. A limpeza do workload fica com o chamador.
func (l *Ledger) DeleteAccount(ctx context.Context, name string) error {
	res := l.db.WithContext(ctx).Where("username = ?", name).Delete(&models.Account{})
	if res.Error != nil {
		return fmt.Errorf("erro ao remover conta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordLogin marca last_login_at = agora e is_logged_in = true.
func (l *Ledger) RecordLogin(ctx context.Context, name string) error {
	return l.update(ctx, name, map[string]any{
		"last_login_at": l.now(),
		"is_logged_in":  true,
	})
}

// RecordLogout marca last_logout_at = agora e is_logged_in = false.
// Usado tanto no logout explícito quanto no encerramento da sessão.
func (l *Ledger) RecordLogout(ctx context.Context, name string) error {
	return l.update(ctx, name, map[string]any{
		"last_logout_at": l.now(),
		"is_logged_in":   false,
	})
}

func (l *Ledger) update(ctx context.Context, name string, fields map[string]any) error {
	res := l.db.WithContext(ctx).Model(&models.Account{}).Where("username = ?", name).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("erro ao atualizar conta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccounts devolve todas as contas já na ordem de exibição.
func (l *Ledger) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := l.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("erro ao listar contas: %w", err)
	}
	SortAccounts(accounts)
	return accounts, nil
}

// SortAccounts ordena pelo número embutido no nome (user2 antes de user10).
// Nomes sem dígitos vão para o fim; empate desfeito pelo nome.
func SortAccounts(accounts []models.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		ki, kj := sortKey(accounts[i].Username), sortKey(accounts[j].Username)
		if ki != kj {
			return ki < kj
		}
		return accounts[i].Username < accounts[j].Username
	})
}

func sortKey(name string) int {
	if n, ok := username.Number(name); ok {
		return n
	}
	return math.MaxInt
}
