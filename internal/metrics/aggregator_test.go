package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeQuerier responde cada query com um valor fixo ou um erro.
type fakeQuerier struct {
	results map[string]model.Value
	errs    map[string]error
}

func (f *fakeQuerier) Query(_ context.Context, query string, _ time.Time, _ ...v1.Option) (model.Value, v1.Warnings, error) {
	if err, ok := f.errs[query]; ok {
		return nil, nil, err
	}
	if v, ok := f.results[query]; ok {
		return v, nil, nil
	}
	return model.Vector{}, nil, nil
}

func vector(pairs ...any) model.Vector {
	vec := model.Vector{}
	for i := 0; i+1 < len(pairs); i += 2 {
		vec = append(vec, &model.Sample{
			Metric: model.Metric{model.InstanceLabel: model.LabelValue(pairs[i].(string))},
			Value:  model.SampleValue(pairs[i+1].(float64)),
		})
	}
	return vec
}

var idleQuery = fmt.Sprintf(queryCPUIdle, defaultWindow)

func TestComputeClusterCPU(t *testing.T) {
	q := &fakeQuerier{results: map[string]model.Value{
		idleQuery:     vector("n1", 0.9, "n2", 0.5),
		queryCPUCores: vector("n1", 4.0, "n2", 8.0),
	}}
	a := NewAggregator(q, zap.NewNop())

	cpu, err := a.ComputeClusterCPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 36.7, cpu.OverallPercent)
	assert.InDelta(t, 4.4, cpu.UsedCores, 1e-9)
	assert.Equal(t, 12.0, cpu.TotalCores)
	assert.Equal(t, []NodeUsage{{"n2", 50}, {"n1", 10}}, cpu.Top5)
	assert.Equal(t, []NodeUsage{{"n1", 10}, {"n2", 50}}, cpu.Nodes)
}

func TestAggregateCPUPerNodeCores(t *testing.T) {
	idle := []sample{{"n1", 0.9}, {"n2", 0.5}}
	cores := []sample{{"n1", 4}, {"n2", 8}}

	r := aggregateCPU(idle, cores)
	assert.InDelta(t, 4.4, r.UsedCores, 1e-9)
	assert.Equal(t, 36.7, r.OverallPercent)
}

func TestAggregateCPUExcludesMismatchedNodes(t *testing.T) {
	idle := []sample{{"n1", 0.5}, {"only-idle", 0.0}}
	cores := []sample{{"n1", 2}, {"only-cores", 64}}

	r := aggregateCPU(idle, cores)
	assert.Equal(t, 2.0, r.TotalCores)
	assert.Equal(t, 50.0, r.OverallPercent)
	assert.Equal(t, []NodeUsage{{"n1", 50}}, r.Top5)
}

func TestAggregateCPUClampAndEmpty(t *testing.T) {
	r := aggregateCPU([]sample{{"n1", 1.2}, {"n2", -0.3}}, []sample{{"n1", 2}, {"n2", 2}})
	assert.Equal(t, []NodeUsage{{"n2", 100}, {"n1", 0}}, r.Top5)
	assert.Equal(t, 50.0, r.OverallPercent)

	empty := aggregateCPU(nil, nil)
	assert.Zero(t, empty.OverallPercent)
	assert.Empty(t, empty.Top5)
}

func TestTopFiveStableOrder(t *testing.T) {
	idle := []sample{
		{"a", 0.5}, {"b", 0.2}, {"c", 0.5}, {"d", 0.9},
		{"e", 0.2}, {"f", 0.5}, {"g", 0.1},
	}
	cores := make([]sample, 0, len(idle))
	for _, s := range idle {
		cores = append(cores, sample{s.instance, 1})
	}

	r := aggregateCPU(idle, cores)
	require.Len(t, r.Top5, 5)
	names := []string{}
	for _, n := range r.Top5 {
		names = append(names, n.Node)
	}
	assert.Equal(t, []string{"g", "b", "e", "a", "c"}, names)
}

func TestComputeClusterMemory(t *testing.T) {
	q := &fakeQuerier{results: map[string]model.Value{
		queryMemTotal: vector("n1", float64(8*gibibyte), "n2", float64(16*gibibyte), "n3", 0.0, "orphan", float64(gibibyte)),
		queryMemAvail: vector("n1", float64(2*gibibyte), "n2", float64(12*gibibyte), "n3", 0.0, "n4", float64(gibibyte)),
	}}
	a := NewAggregator(q, zap.NewNop())

	mem, err := a.ComputeClusterMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, mem.UsedGB)
	assert.Equal(t, 24.0, mem.TotalGB)
	assert.Equal(t, 41.7, mem.OverallPercent)
	assert.Equal(t, "10 GiB", mem.UsedHuman)
	assert.Equal(t, "24 GiB", mem.TotalHuman)
	assert.Equal(t, []NodeUsage{{"n1", 75}, {"n2", 25}, {"n3", 0}}, mem.Top5)
}

func TestAggregateMemoryNegativeUsedIsZero(t *testing.T) {
	r := aggregateMemory([]sample{{"n1", 100}}, []sample{{"n1", 150}})
	assert.Zero(t, r.OverallPercent)
	assert.Equal(t, []NodeUsage{{"n1", 0}}, r.Top5)
}

func TestComputeFailures(t *testing.T) {
	boom := errors.New("connection refused")
	q := &fakeQuerier{
		errs: map[string]error{queryMemAvail: boom},
		results: map[string]model.Value{
			idleQuery: &model.Scalar{Value: 1},
		},
	}
	a := NewAggregator(q, zap.NewNop())

	_, err := a.ComputeClusterMemory(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = a.ComputeClusterCPU(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}

func TestDashboardDegradesToZero(t *testing.T) {
	q := &fakeQuerier{
		errs: map[string]error{
			queryMemTotal: errors.New("network unreachable"),
		},
		results: map[string]model.Value{
			idleQuery:     vector("n1", 0.75),
			queryCPUCores: vector("n1", 4.0),
		},
	}
	a := NewAggregator(q, zap.NewNop())

	s := a.Dashboard(context.Background())
	assert.Equal(t, 25.0, s.CPU.OverallPercent)
	assert.Equal(t, 0.0, s.Memory.OverallPercent)
	assert.Equal(t, 0.0, s.Memory.UsedGB)
	assert.NotNil(t, s.Memory.Top5)
	assert.Empty(t, s.Memory.Top5)
}

func TestNodeNamerRenamesInstances(t *testing.T) {
	q := &fakeQuerier{results: map[string]model.Value{
		idleQuery:     vector("10.0.0.1:9100", 0.5, "10.0.0.2:9100", 0.5),
		queryCPUCores: vector("10.0.0.1:9100", 2.0, "10.0.0.2:9100", 2.0),
	}}
	namer := func(context.Context) (map[string]string, error) {
		return map[string]string{"10.0.0.1:9100": "worker-1"}, nil
	}
	a := NewAggregator(q, zap.NewNop(), WithNodeNamer(namer))

	cpu, err := a.ComputeClusterCPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "worker-1", cpu.Top5[0].Node)
	assert.Equal(t, "10.0.0.2:9100", cpu.Top5[1].Node)

	failing := NewAggregator(q, zap.NewNop(), WithNodeNamer(func(context.Context) (map[string]string, error) {
		return nil, errors.New("sem acesso ao cluster")
	}))
	cpu, err = failing.ComputeClusterCPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9100", cpu.Top5[0].Node)
}
