package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	l.With(String("station", "GS-1")).Debug(context.Background(), "pass detected",
		Int("count", 3),
		Float("max_elev_deg", 42.5),
		Duration("took", 1500*time.Millisecond),
		Time("start", at),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "pass detected" || rec["level"] != "DEBUG" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["station"] != "GS-1" || rec["count"] != float64(3) || rec["max_elev_deg"] != 42.5 {
		t.Fatalf("fields missing: %v", rec)
	}
	if rec["error"] != "boom" {
		t.Fatalf("error field = %v", rec["error"])
	}
	if start, _ := rec["start"].(string); !strings.HasPrefix(start, "2026-03-01T11:00:00") {
		t.Fatalf("time field not normalised to UTC: %v", rec["start"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "text", Output: &buf})
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestTintFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "tint", NoColor: true, Output: &buf}).Info(context.Background(), "hello", String("k", "v"))
	if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected tint output: %q", buf.String())
	}
}

func TestWithRunLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, l := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("run id %q is not a UUID: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("run id version = %d, want 7", parsed.Version())
	}
	if LoggerFromContext(ctx) == nil {
		t.Fatal("logger not stored on context")
	}

	l.Info(ctx, "started")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("run id missing from %q", buf.String())
	}

	// A nested run keeps the outer ID.
	ctx2, _ := WithRunLogger(ctx, base)
	if RunIDFromContext(ctx2) != id {
		t.Fatalf("nested run id = %q, want %q", RunIDFromContext(ctx2), id)
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(ctx) != id {
		t.Fatalf("request id not stored: %q", id)
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || ctx2 != ctx {
		t.Fatal("existing request id was replaced")
	}
	if _, l := WithRequestLogger(context.Background(), nil); l == nil {
		t.Fatal("nil base should fall back to a no-op logger")
	}
}
