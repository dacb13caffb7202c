package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs a TracerProvider with an in-memory exporter as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestStartSpan_TagsSessionFromContext(t *testing.T) {
	exp := useTestTracer(t)

	ctx := WithSession(context.Background(), "01HZX")
	ctx, parent := StartSpan(ctx, "session")
	_, child := StartSpan(ctx, "session.connect")
	child.End()
	parent.End()
	_, plain := StartSpan(context.Background(), "http")
	plain.End()

	want := map[string]string{"session": "01HZX", "session.connect": "01HZX", "http": ""}
	spans := exp.GetSpans()
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for _, s := range spans {
		var got string
		for _, kv := range s.Attributes {
			if string(kv.Key) == SessionIDKey {
				got = kv.Value.AsString()
			}
		}
		if got != want[s.Name] {
			t.Errorf("span %q session_id = %q, want %q", s.Name, got, want[s.Name])
		}
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := SessionID(WithSession(context.Background(), "01HZX")); got != "01HZX" {
		t.Errorf("SessionID = %q, want 01HZX", got)
	}
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		withSpan  bool
		sessionID string
		want      []string
		wantNot   []string
	}{
		{name: "no span", wantNot: []string{"trace_id", "session_id"}},
		{name: "span", withSpan: true, want: []string{"trace_id=", "span_id="}, wantNot: []string{"session_id"}},
		{name: "session", withSpan: true, sessionID: "01HZX", want: []string{"trace_id=", "session_id=01HZX"}},
		{name: "session without span", sessionID: "01HZY", want: []string{"session_id=01HZY"}, wantNot: []string{"trace_id"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			useTestTracer(t)
			buf := captureLogs(t)

			ctx := context.Background()
			if tc.sessionID != "" {
				ctx = WithSession(ctx, tc.sessionID)
			}
			if tc.withSpan {
				c, s := StartSpan(ctx, "log-test")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("test message")

			logged := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(logged, w) {
					t.Errorf("log output missing %q: %s", w, logged)
				}
			}
			for _, w := range tc.wantNot {
				if strings.Contains(logged, w) {
					t.Errorf("log output unexpectedly contains %q: %s", w, logged)
				}
			}
		})
	}
}
