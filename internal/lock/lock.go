// Package lock serializa o login de um mesmo usuário entre várias instâncias do backend.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLocked = errors.New("sessão do usuário já está sendo preparada")

// Locker adquire um lock por chave. unlock deve ser chamado mesmo em caso de erro posterior.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Noop não coordena nada: com uma instância só, o Kubernetes resolve colisões de nome.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// só apaga a chave se o token ainda for o nosso
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis implementa Locker com SET NX PX.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	retries  int
	interval time.Duration
}

// NewRedis cria o lock distribuído. ttl limita quanto tempo um processo morto segura a chave.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client:   client,
		prefix:   "vdi:session-lock:",
		ttl:      ttl,
		retries:  20,
		interval: 250 * time.Millisecond,
	}
}

// WithRetry ajusta quantas vezes e com que intervalo tentar de novo.
func (r *Redis) WithRetry(retries int, interval time.Duration) *Redis {
	r.retries = retries
	r.interval = interval
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	for attempt := 0; ; attempt++ {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("erro ao adquirir lock no redis: %w", err)
		}
		if ok {
			break
		}
		if attempt >= r.retries {
			return nil, ErrLocked
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.interval):
		}
	}

	return func() {
		// contexto próprio: o da requisição pode já ter sido cancelado
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.client, []string{k}, token).Err()
	}, nil
}
