package testdoubles

import (
	"maps"
	"sync"
	"time"

	"github.com/digilib/lendingledger/observability"
)

// MetricsCollectorSpy captures metrics calls for testing.
type MetricsCollectorSpy struct {
	mu        sync.Mutex
	durations []DurationRecord
	counters  []CounterRecord
	values    []ValueRecord
}

type DurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

type CounterRecord struct {
	Metric string
	Labels map[string]string
}

type ValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations = append(s.durations, DurationRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = append(s.counters, CounterRecord{Metric: metric, Labels: maps.Clone(labels)})
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, ValueRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

// CounterCount returns how often metric was incremented with labels containing all wantLabels.
func (s *MetricsCollectorSpy) CounterCount(metric string, wantLabels map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, r := range s.counters {
		if r.Metric == metric && containsLabels(r.Labels, wantLabels) {
			count++
		}
	}

	return count
}

// HasDuration reports whether a duration was recorded for metric with labels containing all wantLabels.
func (s *MetricsCollectorSpy) HasDuration(metric string, wantLabels map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.durations {
		if r.Metric == metric && containsLabels(r.Labels, wantLabels) {
			return true
		}
	}

	return false
}

// Values returns every value recorded for metric, in order.
func (s *MetricsCollectorSpy) Values(metric string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var values []float64

	for _, r := range s.values {
		if r.Metric == metric {
			values = append(values, r.Value)
		}
	}

	return values
}

func containsLabels(labels map[string]string, want map[string]string) bool {
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}

	return true
}

var _ observability.MetricsCollector = (*MetricsCollectorSpy)(nil)
