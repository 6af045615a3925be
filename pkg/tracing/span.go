// Package tracing records timed span trees through contexts. Finished trees
// are written to slog; there is no exporter.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/logger"
)

type spanKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

// StartSpan creates a root span. The trace id is the request id in ctx when
// there is one, otherwise a fresh UUID.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	traceID := logger.RequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	span := newSpan(name, traceID)
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan creates a child of the span in ctx, or a detached span
// when there is none.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := newSpan(name, "")
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.Children = append(parent.Children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, child), child
}

func newSpan(name, traceID string) *Span {
	return &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Children:  make([]*Span, 0),
		Attrs:     make(map[string]any),
	}
}

// End records the span's end time. Later calls are ignored.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.EndTime.IsZero() {
		return
	}
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanKey{}).(*Span); ok {
		return span
	}
	return nil
}

// Names lists the span names of the tree depth first.
func (s *Span) Names() []string {
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	names := []string{s.Name}
	for _, c := range children {
		names = append(names, c.Names()...)
	}
	return names
}

// Log writes the span tree to slog at debug level.
func (s *Span) Log(ctx context.Context) {
	s.logRecursive(ctx, 0)
}

func (s *Span) logRecursive(ctx context.Context, depth int) {
	s.mu.Lock()
	attrs := []any{
		"component", "tracing",
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	slog.Default().DebugContext(ctx, "span", attrs...)
	for _, child := range children {
		child.logRecursive(ctx, depth+1)
	}
}
