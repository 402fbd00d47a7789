package core

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// MetricSample aggregates one metric name across all tag sets.
type MetricSample struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Max   float64 `json:"max,omitempty"`
}

// MemoryMetricsRecorder keeps running totals in process. Tags are dropped.
type MemoryMetricsRecorder struct {
	mu      sync.Mutex
	samples map[string]*MetricSample
}

func NewMemoryMetricsRecorder() *MemoryMetricsRecorder {
	return &MemoryMetricsRecorder{samples: map[string]*MetricSample{}}
}

func (m *MemoryMetricsRecorder) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.record(name, float64(value), value)
}

func (m *MemoryMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, _ map[string]string) {
	m.record(name, value, 1)
}

func (m *MemoryMetricsRecorder) record(name string, value float64, count int64) {
	name = strings.TrimSpace(name)
	if m == nil || name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sample, ok := m.samples[name]
	if !ok {
		sample = &MetricSample{Name: name}
		m.samples[name] = sample
	}
	sample.Count += count
	sample.Sum += value
	if value > sample.Max {
		sample.Max = value
	}
}

// Snapshot returns the samples ordered by name.
func (m *MemoryMetricsRecorder) Snapshot() []MetricSample {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MetricSample, 0, len(m.samples))
	for _, sample := range m.samples {
		out = append(out, *sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryMetricsRecorder) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sample, ok := m.samples[name]; ok {
		return sample.Count
	}
	return 0
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*MemoryMetricsRecorder)(nil)
)
