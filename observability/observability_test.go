package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestOTelTracerWithoutProvider(t *testing.T) {
	// the global provider is a no-op until one is installed
	ctx, span := NewOTelTracer("test").StartSpan(context.Background(), SpanApply)
	if ctx == nil {
		t.Fatalf("nil context")
	}
	span.SetTag("pages", 3)
	span.SetTag("ratio", 0.5)
	span.SetError(errors.New("boom"))
	span.Finish()
}

func TestHandlerLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewHandlerLogger(&buf, "json", "info").With(String("run", "r1"))
	log.Debug("hidden")
	log.Info("matched", Int("count", 3), Err(errors.New("partial")), Error("nil", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "matched" || rec["run"] != "r1" || rec["count"] != float64(3) || rec["error"] != "partial" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["nil"]; ok {
		t.Fatalf("nil error field should be dropped")
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(NopLogger); !ok {
		t.Fatalf("OrNop(nil) should be NopLogger")
	}
	if TracerOrNop(nil) == nil {
		t.Fatalf("TracerOrNop(nil) returned nil")
	}
}
