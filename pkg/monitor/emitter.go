package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the event sink rejected the token.
var ErrUnauthorized = errors.New("monitor sink unauthorized")

// ErrInvalidArgument indicates the event sink rejected the payload.
var ErrInvalidArgument = errors.New("monitor sink invalid argument")

// Emitter posts monitoring events as JSON to an HTTP collector.
type Emitter struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewEmitter creates an emitter for the collector at baseURL.
func NewEmitter(baseURL, token string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("monitor sink base url required")
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		baseURL: trimmed,
		token:   strings.TrimSpace(token),
		client:  client,
	}, nil
}

// Emit sends the event to the collector's /events endpoint.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e == nil {
		return errors.New("monitor emitter not initialised")
	}
	body, err := json.Marshal(buildPayload(event))
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build monitor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send monitor event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	default:
		return fmt.Errorf("monitor event rejected: %s", summary)
	}
}

func buildPayload(event Event) map[string]any {
	payload := map[string]any{
		"type":        event.Type,
		"name":        strings.TrimSpace(event.Name),
		"message":     strings.TrimSpace(event.Message),
		"attributes":  event.Attributes,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if event.Type == EventTrace {
		payload["start"] = event.Start.UTC().Format(time.RFC3339Nano)
		payload["end"] = event.End.UTC().Format(time.RFC3339Nano)
		payload["duration_ms"] = float64(event.End.Sub(event.Start)) / float64(time.Millisecond)
		payload["origin"] = event.Origin
		payload["kind"] = event.Kind
	}
	return payload
}

// LogSink writes events to a structured logger instead of a collector.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs the event at error level for errors and debug level otherwise.
func (s LogSink) Emit(ctx context.Context, event Event) error {
	if s.Logger == nil {
		return nil
	}
	level := slog.LevelDebug
	if event.Type == EventError {
		level = slog.LevelError
	}
	args := []any{"event_type", event.Type, "name", event.Name}
	if len(event.Attributes) > 0 {
		args = append(args, "attributes", event.Attributes)
	}
	if event.Type == EventTrace {
		args = append(args, "duration", event.End.Sub(event.Start), "origin", event.Origin, "kind", event.Kind)
	}
	msg := event.Message
	if msg == "" {
		msg = event.Name
	}
	s.Logger.Log(ctx, level, msg, args...)
	return nil
}
