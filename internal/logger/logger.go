package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New cria o logger da aplicação: console colorido em modo debug, JSON em produção.
func New(debug bool) (l *zap.Logger, err error) {
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao iniciar logger: %w", err)
	}
	return l, nil
}
