package testdoubles

import (
	"context"
	"maps"
	"sync"

	"github.com/digilib/lendingledger/observability"
)

// SpanRecord is a finished span.
type SpanRecord struct {
	Name       string
	Status     string
	StartAttrs map[string]string
	EndAttrs   map[string]string
}

// TracingCollectorSpy records finished spans for testing.
type TracingCollectorSpy struct {
	mu    sync.Mutex
	spans []SpanRecord
}

func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

type spySpan struct {
	name       string
	status     string
	startAttrs map[string]string
	attrs      map[string]string
}

func (s *spySpan) SetStatus(status string) {
	s.status = status
}

func (s *spySpan) AddAttribute(key, value string) {
	s.attrs[key] = value
}

func (s *TracingCollectorSpy) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, observability.SpanContext) {

	return ctx, &spySpan{name: name, startAttrs: maps.Clone(attrs), attrs: make(map[string]string)}
}

func (s *TracingCollectorSpy) FinishSpan(spanCtx observability.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*spySpan)
	if !ok {
		return
	}

	endAttrs := maps.Clone(span.attrs)
	maps.Copy(endAttrs, attrs)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = append(s.spans, SpanRecord{
		Name:       span.name,
		Status:     status,
		StartAttrs: span.startAttrs,
		EndAttrs:   endAttrs,
	})
}

// Spans returns the finished spans named name.
func (s *TracingCollectorSpy) Spans(name string) []SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var spans []SpanRecord

	for _, span := range s.spans {
		if span.Name == name {
			spans = append(spans, span)
		}
	}

	return spans
}

var _ observability.TracingCollector = (*TracingCollectorSpy)(nil)
