// Package username concentra as regras sobre nomes de conta, que também
// viram nomes e labels de recursos no Kubernetes.
package username

import (
	"errors"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// MaxLength deixa espaço para o prefixo "gui-svc-" dentro de um label DNS-1123 (63).
const MaxLength = 50

var ErrInvalid = errors.New("nome de usuário inválido")

// Validate garante que o nome pode ser usado como nome de pod/service e valor de label.
func Validate(name string) error {
	if name == "" || len(name) > MaxLength {
		return ErrInvalid
	}
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return ErrInvalid
	}
	return nil
}

// Digits concatena todos os dígitos do nome, na ordem em que aparecem.
func Digits(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Number interpreta os dígitos do nome como um único inteiro.
// Retorna false quando não há dígitos ou o valor não cabe em int.
func Number(name string) (int, bool) {
	d := Digits(name)
	if d == "" {
		return 0, false
	}
	n, err := strconv.Atoi(d)
	if err != nil {
		return 0, false
	}
	return n, true
}
