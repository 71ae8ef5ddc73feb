package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) Logger {
	t.Helper()
	opts.Writer = buf
	opts.JSON = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// lastRecord parses the last JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p", Level: slog.LevelWarn})

	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	l.Warn(context.Background(), "kept")
	if rec := lastRecord(t, &buf); rec["msg"] != "kept" {
		t.Fatalf("msg = %v", rec["msg"])
	}
}

func TestLogger_BaseAndWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p", Version: "1.2.3"})

	child := l.With("component", "server", "dangling")
	child.Info(context.Background(), "hello", "port", 8080)

	rec := lastRecord(t, &buf)
	if rec["app"] != "h5p" || rec["version"] != "1.2.3" {
		t.Fatalf("base attrs missing: %v", rec)
	}
	if rec["component"] != "server" {
		t.Fatalf("component = %v", rec["component"])
	}
	if rec["port"] != float64(8080) {
		t.Fatalf("port = %v", rec["port"])
	}
	if _, ok := rec["dangling"]; ok {
		t.Fatal("odd trailing key should be ignored")
	}
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p"})
	_ = l.With("child", true)

	l.Info(context.Background(), "parent")
	if _, ok := lastRecord(t, &buf)["child"]; ok {
		t.Fatal("parent logger picked up child attrs")
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p"})

	base := errors.New("disk full")
	err := xerrors.Wrap(fmt.Errorf("write content.json: %w", base), "save content")
	l.Error(context.Background(), err, "save failed")

	rec := lastRecord(t, &buf)
	if rec["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", rec["cause_type"])
	}
	chain, ok := rec["error_chain"].([]any)
	if !ok || len(chain) != 3 {
		t.Fatalf("error_chain = %v", rec["error_chain"])
	}
	if s, _ := rec["stack"].(string); s == "" {
		t.Fatal("expected stack at error level")
	}
}

func TestLogger_TraceIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p"})

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	rec := lastRecord(t, &buf)
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() {
		t.Fatalf("trace fields missing: %v", rec)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext on empty context should return Nop")
	}
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "h5p"})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext returned a different logger")
	}
	ctx = context.WithValue(context.Background(), ctxKey{}, nil)
	FromContext(ctx).Info(ctx, "safe")
}

func TestNop_Safe(t *testing.T) {
	l := Nop().With("a", 1)
	l.Debug(context.Background(), "x")
	l.Error(context.Background(), nil, "x")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
