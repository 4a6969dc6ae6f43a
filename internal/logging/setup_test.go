package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, filter, err := New(&buf, Options{
		Format:     "json",
		Level:      "warn",
		Components: map[string]string{"resolver": "debug"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if filter.Level("resolver") != slog.LevelDebug {
		t.Errorf("resolver level = %v", filter.Level("resolver"))
	}

	logger.With("component", "memo").Info("dropped")
	logger.With("component", "resolver").Debug("kept", "refs", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["component"] != "resolver" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewErrors(t *testing.T) {
	if _, _, err := New(nil, Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, _, err := New(nil, Options{Components: map[string]string{"x": "nope"}}); err == nil {
		t.Error("expected error for bad component level")
	}
}
