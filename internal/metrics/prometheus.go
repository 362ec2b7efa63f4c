package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

var ErrUnexpectedResult = errors.New("resposta inesperada do Prometheus")

// Querier é o subconjunto da API do Prometheus usado aqui (v1.API satisfaz).
type Querier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// NewPrometheusQuerier cria o client HTTP da API do Prometheus.
func NewPrometheusQuerier(address string) (Querier, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("erro ao criar client do Prometheus: %w", err)
	}
	return v1.NewAPI(client), nil
}

// sample é um valor por instance, na ordem em que o Prometheus devolveu.
type sample struct {
	instance string
	value    float64
}

// instantVector executa uma instant query e achata o vetor em amostras por instance.
// Valores NaN/Inf e instances repetidas são descartados.
func (a *Aggregator) instantVector(ctx context.Context, query string) ([]sample, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	val, warnings, err := a.q.Query(ctx, query, a.now())
	if err != nil {
		return nil, fmt.Errorf("erro na query %q: %w", query, err)
	}
	for _, w := range warnings {
		a.log.Sugar().Warnw("aviso do Prometheus", "query", query, "warning", w)
	}

	vec, ok := val.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("%w: tipo %s para %q", ErrUnexpectedResult, val.Type(), query)
	}

	out := make([]sample, 0, len(vec))
	seen := make(map[string]struct{}, len(vec))
	for _, s := range vec {
		inst := string(s.Metric[model.InstanceLabel])
		if inst == "" {
			inst = "unknown"
		}
		if _, dup := seen[inst]; dup {
			continue
		}
		v := float64(s.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, sample{instance: inst, value: v})
	}
	return out, nil
}

func byInstance(samples []sample) map[string]float64 {
	m := make(map[string]float64, len(samples))
	for _, s := range samples {
		m[s.instance] = s.value
	}
	return m
}
