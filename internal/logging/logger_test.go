package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(level string, jsonFormat bool) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: level, Component: "test", JSONFormat: jsonFormat})
	l.output = buf
	return l, buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufferLogger("WARN", false)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected DEBUG/INFO to be filtered at WARN level, got: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("Expected WARN message in output, got: %s", out)
	}
}

func TestKeyValueArgsBecomeFields(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Info("scan complete", "symbol", "BTCUSDT", "timeframe", "15m")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v", err)
	}
	if entry.Message != "scan complete" {
		t.Errorf("Expected message 'scan complete', got %q", entry.Message)
	}
	if entry.Fields["symbol"] != "BTCUSDT" {
		t.Errorf("Expected symbol field BTCUSDT, got %v", entry.Fields["symbol"])
	}
	if entry.Fields["timeframe"] != "15m" {
		t.Errorf("Expected timeframe field 15m, got %v", entry.Fields["timeframe"])
	}
}

func TestUnpairedArgsCarriedAsField(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	l.Info("scan complete", 42)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v", err)
	}
	if entry.Message != "scan complete" {
		t.Errorf("Expected message untouched, got %q", entry.Message)
	}
	raw, ok := entry.Fields["args"]
	if !ok {
		t.Fatalf("Expected unpaired args under the args field, got %v", entry.Fields)
	}
	args, ok := raw.([]interface{})
	if !ok || len(args) != 1 {
		t.Fatalf("Expected one carried arg, got %v", raw)
	}
}

func TestWithComponentAndFieldsDoNotMutateParent(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)

	child := l.WithComponent("orders").WithField("position_id", "abc")
	child.Info("tracked")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v", err)
	}
	if entry.Component != "orders" {
		t.Errorf("Expected component orders, got %q", entry.Component)
	}

	buf.Reset()
	l.Info("parent")
	var parent LogEntry
	if err := json.Unmarshal(buf.Bytes(), &parent); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v", err)
	}
	if parent.Component != "test" {
		t.Errorf("Expected parent component unchanged, got %q", parent.Component)
	}
	if _, ok := parent.Fields["position_id"]; ok {
		t.Error("Expected parent fields unchanged after child WithField")
	}
}

func TestPatternContextFields(t *testing.T) {
	l, buf := newBufferLogger("INFO", true)
	prev := Default()
	SetDefault(l)
	defer SetDefault(prev)

	PatternContext("BTCUSDT", "15m", "choch").Info("rebuilt")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v", err)
	}
	if entry.Component != "pattern" {
		t.Errorf("Expected component pattern, got %q", entry.Component)
	}
	if entry.Fields["symbol"] != "BTCUSDT" || entry.Fields["timeframe"] != "15m" {
		t.Errorf("Expected symbol/timeframe fields, got %v", entry.Fields)
	}
	if entry.Fields["pattern_type"] != "choch" {
		t.Errorf("Expected pattern_type choch, got %v", entry.Fields["pattern_type"])
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := ParseLevel("nonsense"); got != INFO {
		t.Errorf("Expected INFO for unknown level, got %v", got)
	}
	if got := ParseLevel("warning"); got != WARN {
		t.Errorf("Expected WARN for 'warning', got %v", got)
	}
}
