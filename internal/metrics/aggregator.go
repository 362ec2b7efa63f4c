package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	topN     = 5
	gibibyte = 1 << 30
)

// Queries usadas pelo painel. %s é a janela do rate.
const (
	queryCPUIdle   = `avg by (instance) (rate(node_cpu_seconds_total{mode="idle"}[%s]))`
	queryCPUCores  = `count by (instance) (node_cpu_seconds_total{mode="idle"})`
	queryMemTotal  = `node_memory_MemTotal_bytes`
	queryMemAvail  = `node_memory_MemAvailable_bytes`
	defaultWindow  = "2m"
	defaultTimeout = 4 * time.Second
)

// NodeUsage é a utilização de um node, em porcentagem com uma casa decimal.
type NodeUsage struct {
	Node    string  `json:"node"`
	Percent float64 `json:"percent"`
}

// CPURollup resume a CPU do cluster.
type CPURollup struct {
	OverallPercent float64     `json:"overallPercent"`
	UsedCores      float64     `json:"usedCores"`
	TotalCores     float64     `json:"totalCores"`
	Top5           []NodeUsage `json:"top5"`
	Nodes          []NodeUsage `json:"nodes"`
}

// MemoryRollup resume a memória do cluster.
type MemoryRollup struct {
	OverallPercent float64     `json:"overallPercent"`
	UsedGB         float64     `json:"usedGB"`
	TotalGB        float64     `json:"totalGB"`
	UsedHuman      string      `json:"usedHuman"`
	TotalHuman     string      `json:"totalHuman"`
	Top5           []NodeUsage `json:"top5"`
	Nodes          []NodeUsage `json:"nodes"`
}

// Summary é o que o painel de administração exibe.
type Summary struct {
	CPU    CPURollup    `json:"cpu"`
	Memory MemoryRollup `json:"memory"`
}

// NodeNamer traduz o label instance do node-exporter para o nome do node.
type NodeNamer func(ctx context.Context) (map[string]string, error)

// Aggregator consulta o Prometheus e produz os resumos de CPU e memória.
type Aggregator struct {
	q       Querier
	timeout time.Duration
	window  string
	namer   NodeNamer
	now     func() time.Time
	log     *zap.Logger
}

// Option ajusta o Aggregator.
type Option func(*Aggregator)

func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithWindow(w string) Option {
	return func(a *Aggregator) {
		if w != "" {
			a.window = w
		}
	}
}

func WithNodeNamer(n NodeNamer) Option {
	return func(a *Aggregator) { a.namer = n }
}

// NewAggregator cria o agregador sobre um Querier.
func NewAggregator(q Querier, log *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		q:       q,
		timeout: defaultTimeout,
		window:  defaultWindow,
		now:     time.Now,
		log:     log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ComputeClusterCPU busca idle e número de cores por node e agrega.
func (a *Aggregator) ComputeClusterCPU(ctx context.Context) (CPURollup, error) {
	var idle, cores []sample
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		idle, err = a.instantVector(gctx, fmt.Sprintf(queryCPUIdle, a.window))
		return err
	})
	g.Go(func() (err error) {
		cores, err = a.instantVector(gctx, queryCPUCores)
		return err
	})
	if err := g.Wait(); err != nil {
		return CPURollup{}, err
	}

	rollup := aggregateCPU(idle, cores)
	a.rename(ctx, rollup.Top5, rollup.Nodes)
	return rollup, nil
}

// ComputeClusterMemory busca memória total e disponível por node e agrega.
func (a *Aggregator) ComputeClusterMemory(ctx context.Context) (MemoryRollup, error) {
	var total, avail []sample
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, err = a.instantVector(gctx, queryMemTotal)
		return err
	})
	g.Go(func() (err error) {
		avail, err = a.instantVector(gctx, queryMemAvail)
		return err
	})
	if err := g.Wait(); err != nil {
		return MemoryRollup{}, err
	}

	rollup := aggregateMemory(total, avail)
	a.rename(ctx, rollup.Top5, rollup.Nodes)
	return rollup, nil
}

// Dashboard nunca falha: métrica que não pôde ser lida vira zero e top5 vazio.
func (a *Aggregator) Dashboard(ctx context.Context) Summary {
	var s Summary
	var g errgroup.Group
	g.Go(func() error {
		cpu, err := a.ComputeClusterCPU(ctx)
		if err != nil {
			a.log.Warn("métricas de CPU indisponíveis", zap.Error(err))
			cpu = zeroCPU()
		}
		s.CPU = cpu
		return nil
	})
	g.Go(func() error {
		mem, err := a.ComputeClusterMemory(ctx)
		if err != nil {
			a.log.Warn("métricas de memória indisponíveis", zap.Error(err))
			mem = zeroMemory()
		}
		s.Memory = mem
		return nil
	})
	_ = g.Wait()
	return s
}

func (a *Aggregator) rename(ctx context.Context, lists ...[]NodeUsage) {
	if a.namer == nil {
		return
	}
	names, err := a.namer(ctx)
	if err != nil {
		a.log.Debug("sem mapa de nomes de node", zap.Error(err))
		return
	}
	for _, list := range lists {
		for i := range list {
			if name, ok := names[list[i].Node]; ok {
				list[i].Node = name
			}
		}
	}
}

type nodeRatio struct {
	node  string
	ratio float64
}

func aggregateCPU(idle, cores []sample) CPURollup {
	coreCount := byInstance(cores)

	var used, total float64
	ratios := make([]nodeRatio, 0, len(idle))
	for _, s := range idle {
		c, ok := coreCount[s.instance]
		if !ok {
			continue
		}
		ratio := clamp(1-s.value, 0, 1)
		used += ratio * c
		total += c
		ratios = append(ratios, nodeRatio{node: s.instance, ratio: ratio})
	}

	r := CPURollup{
		UsedCores:  round(used, 2),
		TotalCores: total,
		Nodes:      toUsage(ratios),
		Top5:       top(ratios),
	}
	if total > 0 {
		r.OverallPercent = round(used/total*100, 1)
	}
	return r
}

func aggregateMemory(total, avail []sample) MemoryRollup {
	available := byInstance(avail)

	var usedSum, totalSum float64
	ratios := make([]nodeRatio, 0, len(total))
	for _, s := range total {
		a, ok := available[s.instance]
		if !ok {
			continue
		}
		used := math.Max(0, s.value-a)
		ratio := 0.0
		if s.value > 0 {
			ratio = used / s.value
		}
		usedSum += used
		totalSum += s.value
		ratios = append(ratios, nodeRatio{node: s.instance, ratio: ratio})
	}

	r := MemoryRollup{
		UsedGB:     round(usedSum/gibibyte, 2),
		TotalGB:    round(totalSum/gibibyte, 2),
		UsedHuman:  humanize.IBytes(uint64(usedSum)),
		TotalHuman: humanize.IBytes(uint64(totalSum)),
		Nodes:      toUsage(ratios),
		Top5:       top(ratios),
	}
	if totalSum > 0 {
		r.OverallPercent = round(usedSum/totalSum*100, 1)
	}
	return r
}

// top ordena por uso decrescente mantendo a ordem original nos empates.
func top(ratios []nodeRatio) []NodeUsage {
	sorted := make([]nodeRatio, len(ratios))
	copy(sorted, ratios)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ratio > sorted[j].ratio })
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return toUsage(sorted)
}

func toUsage(ratios []nodeRatio) []NodeUsage {
	out := make([]NodeUsage, 0, len(ratios))
	for _, r := range ratios {
		out = append(out, NodeUsage{Node: r.node, Percent: round(r.ratio*100, 1)})
	}
	return out
}

func zeroCPU() CPURollup {
	return CPURollup{Top5: []NodeUsage{}, Nodes: []NodeUsage{}}
}

func zeroMemory() MemoryRollup {
	return MemoryRollup{
		UsedHuman:  humanize.IBytes(0),
		TotalHuman: humanize.IBytes(0),
		Top5:       []NodeUsage{},
		Nodes:      []NodeUsage{},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
