// Package testutil reúne helpers usados apenas pelos testes.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/widen0814/VDI/internal/db"
)

// DB abre um SQLite em arquivo temporário já migrado, com a mesma tradução de erros do postgres.
func DB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vdi.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(conn))
	t.Cleanup(func() { db.Close(conn) })
	return conn
}
