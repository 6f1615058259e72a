// Package authtest provides test helpers for strategies: a slog handler
// that records log events and stub credential sources.
package authtest

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Event is one recorded log record.
type Event struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record in memory.
type LogRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewLogger returns a logger writing into a fresh recorder at DEBUG level.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := &LogRecorder{}
	return slog.New(rec), rec
}

func (h *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	ev := Event{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	r.Attrs(func(a slog.Attr) bool {
		ev.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *LogRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *LogRecorder) WithGroup(string) slog.Handler      { return h }

// Events returns a copy of all recorded events.
func (h *LogRecorder) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Count returns the number of events at exactly the given level.
func (h *LogRecorder) Count(level slog.Level) int {
	n := 0
	for _, ev := range h.Events() {
		if ev.Level == level {
			n++
		}
	}
	return n
}

// Last returns the most recent event at the given level.
func (h *LogRecorder) Last(level slog.Level) (Event, bool) {
	events := h.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Level == level {
			return events[i], true
		}
	}
	return Event{}, false
}

// StaticSource returns fixed values and counts how often it is asked.
type StaticSource struct {
	TokenValue    string
	ClientIDValue string
	Err           error

	calls atomic.Int32
}

func (s *StaticSource) Token(*http.Request) (string, error) {
	s.calls.Add(1)
	return s.TokenValue, s.Err
}

func (s *StaticSource) ClientID(*http.Request) (string, error) {
	s.calls.Add(1)
	return s.ClientIDValue, s.Err
}

// Calls returns how many times Token or ClientID was called.
func (s *StaticSource) Calls() int { return int(s.calls.Load()) }

// CounterValue reads the current value of a CounterVec for the given labels.
func CounterValue(t testing.TB, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
