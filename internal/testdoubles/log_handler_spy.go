package testdoubles

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// LogHandlerSpy is a slog.Handler that captures log records for testing.
type LogHandlerSpy struct {
	records     []slog.Record
	mu          sync.Mutex
	logToStdout bool
}

// NewLogHandlerSpy creates a new LogHandlerSpy.
// Switchable to log to stdout, which can be useful for debugging tests by seeing the actual log output.
func NewLogHandlerSpy(logToStdout bool) *LogHandlerSpy {
	return &LogHandlerSpy{logToStdout: logToStdout}
}

func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record.Clone())

	if s.logToStdout {
		_ = slog.NewJSONHandler(os.Stdout, nil).Handle(ctx, record)
	}

	return nil
}

func (s *LogHandlerSpy) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (s *LogHandlerSpy) WithAttrs(_ []slog.Attr) slog.Handler {
	return s
}

func (s *LogHandlerSpy) WithGroup(_ string) slog.Handler {
	return s
}

// Records returns a copy of all captured log records.
func (s *LogHandlerSpy) Records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]slog.Record, len(s.records))
	copy(records, s.records)

	return records
}

// HasLog starts a fluent chain to check for a record with the given level and message.
func (s *LogHandlerSpy) HasLog(level slog.Level, message string) *LogRecordMatcher {
	for _, record := range s.Records() {
		if record.Level == level && record.Message == message {
			return &LogRecordMatcher{record: record, found: true}
		}
	}

	return &LogRecordMatcher{}
}

// LogRecordMatcher provides a fluent interface for checking log record attributes.
type LogRecordMatcher struct {
	record slog.Record
	found  bool
}

// WithAttr requires an attribute with the given key to be present.
func (m *LogRecordMatcher) WithAttr(key string) *LogRecordMatcher {
	if m.found && !m.hasAttr(key, func(slog.Value) bool { return true }) {
		m.found = false
	}

	return m
}

// WithAttrValue requires an attribute whose value renders as value.
func (m *LogRecordMatcher) WithAttrValue(key string, value string) *LogRecordMatcher {
	if m.found && !m.hasAttr(key, func(v slog.Value) bool { return v.String() == value }) {
		m.found = false
	}

	return m
}

// WithDurationMS requires a non-negative duration_ms attribute.
func (m *LogRecordMatcher) WithDurationMS() *LogRecordMatcher {
	nonNegative := func(v slog.Value) bool {
		switch v.Kind() {
		case slog.KindFloat64:
			return v.Float64() >= 0
		case slog.KindInt64:
			return v.Int64() >= 0
		default:
			return false
		}
	}

	if m.found && !m.hasAttr("duration_ms", nonNegative) {
		m.found = false
	}

	return m
}

func (m *LogRecordMatcher) Assert() bool {
	return m.found
}

func (m *LogRecordMatcher) hasAttr(key string, accept func(slog.Value) bool) bool {
	found := false

	m.record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key && accept(attr.Value) {
			found = true
			return false
		}

		return true
	})

	return found
}
