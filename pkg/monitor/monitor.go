// Package monitor exposes the error monitoring capability used by the
// publisher: report an error with attributes, attach global attributes, and
// record timed traces. Delivery is best effort.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"
	"time"
)

// Event kinds.
const (
	EventError = "error"
	EventTrace = "trace"
)

// Event is a single monitoring payload.
type Event struct {
	Type       string
	Name       string
	Message    string
	Attributes map[string]any
	Start      time.Time
	End        time.Time
	Origin     string
	Kind       string
	OccurredAt time.Time
}

// Sink delivers events somewhere.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Reporter is the monitoring capability handed to components.
type Reporter interface {
	ReportError(ctx context.Context, err error, attrs map[string]any)
	SetAttribute(key string, value any)
	RecordTrace(ctx context.Context, name string, start, end time.Time, origin, kind string)
}

// Client implements Reporter on top of a Sink. Global attributes set with
// SetAttribute are merged into every event; per-call attributes win.
type Client struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	attrs map[string]any
}

// NewClient builds a Client. A nil sink logs events through logger.
func NewClient(sink Sink, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Client{sink: sink, logger: logger, now: time.Now, attrs: map[string]any{}}
}

// SetAttribute attaches key=value to all subsequent events.
func (c *Client) SetAttribute(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}

// ReportError sends err with the given attributes.
func (c *Client) ReportError(ctx context.Context, err error, attrs map[string]any) {
	if err == nil {
		return
	}
	c.emit(ctx, Event{
		Type:       EventError,
		Name:       fmt.Sprintf("%T", err),
		Message:    err.Error(),
		Attributes: c.merged(attrs),
		OccurredAt: c.now(),
	})
}

// RecordTrace records a named span between start and end.
func (c *Client) RecordTrace(ctx context.Context, name string, start, end time.Time, origin, kind string) {
	c.emit(ctx, Event{
		Type:       EventTrace,
		Name:       name,
		Attributes: c.merged(nil),
		Start:      start,
		End:        end,
		Origin:     origin,
		Kind:       kind,
		OccurredAt: c.now(),
	})
}

func (c *Client) merged(extra map[string]any) map[string]any {
	c.mu.Lock()
	out := maps.Clone(c.attrs)
	c.mu.Unlock()
	if out == nil {
		out = map[string]any{}
	}
	maps.Copy(out, extra)
	return out
}

func (c *Client) emit(ctx context.Context, event Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.sink.Emit(ctx, event); err != nil {
		c.logger.Warn("monitor event not delivered", "event_type", event.Type, "name", event.Name, "error", err)
	}
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Contain runs fn and turns a panic into a *PanicError. Errors and panics are
// reported through r with the component name attached; the error is returned
// so the caller decides what a failure means for it.
func Contain(ctx context.Context, r Reporter, component string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
		if err != nil && r != nil {
			r.ReportError(ctx, err, map[string]any{"component": component})
		}
	}()
	return fn(ctx)
}
