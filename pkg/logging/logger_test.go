package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	s := bufio.NewScanner(f)
	for s.Scan() {
		var m map[string]any
		if err := json.Unmarshal(s.Bytes(), &m); err != nil {
			t.Fatalf("decode line %q: %v", s.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_ComponentAndContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LogConfig{Level: LevelDebug, Format: "json", Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	ctx := WithSessionID(WithRequestID(context.Background(), "req-1"), "sess-9")
	log.WithComponent("search").WithContext(ctx).Info("street search", String("term", "gutierrez"), Int("hits", 3))
	log.WithComponent("georef").Error("upstream failed", errors.New("status 502"))
	log.Trace("dropped below level")
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}

	first := lines[0]
	if first["component"] != "search" || first["request_id"] != "req-1" || first["session_id"] != "sess-9" {
		t.Fatalf("unexpected context attrs: %v", first)
	}
	if first["term"] != "gutierrez" || first["hits"] != float64(3) {
		t.Fatalf("unexpected fields: %v", first)
	}

	second := lines[1]
	if second["error"] != "status 502" || second["level"] != "ERROR" {
		t.Fatalf("unexpected error line: %v", second)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"error", LevelError},
		{"trace", LevelTrace},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatalf("expected empty request id")
	}
	if SessionIDFromContext(nil) != "" { //nolint:staticcheck
		t.Fatalf("expected empty session id for nil ctx")
	}
	Nop().Info("nothing")
}

func TestLogger_SetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewLogger(LogConfig{Level: LevelWarn, Format: "json", Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Info("hidden")
	log.SetLevel(LevelDebug)
	if log.Level() != LevelDebug {
		t.Fatalf("Level() = %v", log.Level())
	}
	log.Debug("visible")
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0]["msg"] != "visible" {
		t.Fatalf("expected only the debug line, got %v", lines)
	}
}
