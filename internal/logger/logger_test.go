package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextOutputRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: WarnLevel, Output: &buf})

	log.Info("hidden")
	log.Warn("shown", "node", "fetch")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "fetch") {
		t.Errorf("expected warn message with key, got %q", out)
	}
}

func TestJSONOutputWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: DebugLevel, Output: &buf, JSON: true}).With("workflow", "wf-1")

	log.Debug("task started", "node", "action0", "kind", "process_item")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "task started" {
		t.Errorf("expected msg 'task started', got %v", entry["msg"])
	}
	if entry["workflow"] != "wf-1" {
		t.Errorf("expected workflow key from With, got %v", entry["workflow"])
	}
	if entry["node"] != "action0" {
		t.Errorf("expected node key, got %v", entry["node"])
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Error("nothing")
	log.With("k", "v").Info("nothing")
}
