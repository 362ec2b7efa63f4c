package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/widen0814/VDI/internal/config"
	"github.com/widen0814/VDI/internal/models"
)

// DSN monta a string de conexão do PostgreSQL.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	)
}

// InitPostgres inicializa a conexão com PostgreSQL.
// TranslateError faz violações de unicidade virarem gorm.ErrDuplicatedKey.
func InitPostgres(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("erro ao conectar no banco: %w", err)
	}

	log.Info("conectado ao PostgreSQL", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	return conn, nil
}

// AutoMigrate executa as migrações automáticas dos modelos principais.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&models.Account{},
		&models.Admin{},
		&models.Image{},
	)
}

// Close fecha a conexão com o banco (usado em testes / shutdown).
func Close(conn *gorm.DB) {
	if conn == nil {
		return
	}
	sqlDB, err := conn.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
}
