// Package tracing times a search and its provider fan-out. Spans travel in
// the context, form a parent-child tree and are written to slog at debug
// level once the root ends.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type spanCtxKey struct{}

// Span is one timed step. Children and Attrs may be appended from several
// goroutines; read them only after the owning spans have ended.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	mu sync.Mutex
}

func newSpan(name, traceID string) *Span {
	return &Span{Name: name, TraceID: traceID, StartTime: time.Now(), Attrs: map[string]any{}}
}

// StartSpan opens a root span for traceID.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	s := newSpan(name, traceID)
	return context.WithValue(ctx, spanCtxKey{}, s), s
}

// StartChildSpan opens a span under the one carried by ctx. Without a parent
// the span is detached and has no trace ID.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		s := newSpan(name, "")
		return context.WithValue(ctx, spanCtxKey{}, s), s
	}
	s := newSpan(name, parent.TraceID)
	parent.mu.Lock()
	parent.Children = append(parent.Children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanCtxKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanCtxKey{}).(*Span)
	return s
}

func (s *Span) End() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// snapshot copies attrs in key order along with the current children.
func (s *Span) snapshot() ([]any, []*Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		attrs = append(attrs, k, s.Attrs[k])
	}
	return attrs, append([]*Span(nil), s.Children...)
}

// Log writes the tree depth first, one debug record per span.
func (s *Span) Log(logger *slog.Logger) {
	type entry struct {
		span  *Span
		depth int
	}
	stack := []entry{{s, 0}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		attrs, children := e.span.snapshot()
		fields := append([]any{
			"trace_id", e.span.TraceID,
			"span", e.span.Name,
			"duration_ms", e.span.Duration.Milliseconds(),
			"depth", e.depth,
		}, attrs...)
		logger.Debug("span", fields...)

		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, entry{children[i], e.depth + 1})
		}
	}
}
