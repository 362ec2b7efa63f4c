package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/widen0814/VDI/internal/models"
)

// AuthenticateAdmin valida um administrador local (senha opaca).
// Linhas sem senha (LDAP, break-glass) nunca autenticam por aqui.
func (l *Ledger) AuthenticateAdmin(ctx context.Context, name, password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&models.Admin{}).
		Where("username = ? AND password = ?", name, password).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("erro ao autenticar admin: %w", err)
	}
	return count > 0, nil
}

// AdminExists é usado pelo middleware para revalidar o admin a cada requisição.
func (l *Ledger) AdminExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.Admin{}).Where("username = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("erro ao consultar admin: %w", err)
	}
	return count > 0, nil
}

// EnsureAdmin registra um admin autenticado externamente, se ainda não existir.
func (l *Ledger) EnsureAdmin(ctx context.Context, name, source string) error {
	admin := models.Admin{Username: name, Source: source}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(&admin).Error
	if err != nil {
		return fmt.Errorf("erro ao registrar admin: %w", err)
	}
	return nil
}

// SeedAdmin cria o admin inicial quando a tabela está vazia.
func (l *Ledger) SeedAdmin(ctx context.Context, name, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("erro ao contar admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	admin := models.Admin{Username: name, Password: password, Source: models.AdminSourceLocal}
	if err := l.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return false, fmt.Errorf("erro ao criar admin inicial: %w", err)
	}
	return true, nil
}

// DefaultImage devolve a imagem padrão das sessões.
func (l *Ledger) DefaultImage(ctx context.Context) (*models.Image, error) {
	var img models.Image
	err := l.db.WithContext(ctx).Where("name = ?", models.DefaultImageName).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("imagem padrão não cadastrada: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar imagem padrão: %w", err)
	}
	return &img, nil
}

// SeedDefaultImage grava a imagem padrão a partir da configuração, sobrescrevendo a anterior.
func (l *Ledger) SeedDefaultImage(ctx context.Context, ref string, webPort, vncPort int) error {
	img := models.Image{Name: models.DefaultImageName, ImageRef: ref, WebPort: webPort, VNCPort: vncPort}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"image_ref", "web_port", "vnc_port"}),
		}).
		Create(&img).Error
	if err != nil {
		return fmt.Errorf("erro ao gravar imagem padrão: %w", err)
	}
	return nil
}
