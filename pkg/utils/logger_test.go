package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureLogger пишет JSON записи в буфер
func captureLogger(level zapcore.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "message", LevelKey: "level"}),
		zapcore.AddSync(&buf),
		level,
	)
	return &Logger{Logger: zap.New(core)}, &buf
}

// decodeLines разбирает JSON записи построчно
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestInitLogger_Formats(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"defaults", LogConfig{}},
		{"json", LogConfig{Level: "info", Format: "json"}},
		{"text", LogConfig{Level: "debug", Format: "text"}},
		{"console alias", LogConfig{Format: "console"}},
		{"development", LogConfig{Level: "debug", Development: true}},
		{"stdout", LogConfig{Output: "stdout"}},
		{"missing directory falls back to stderr", LogConfig{Output: "/nonexistent/dir/executor.log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := InitLogger(tt.cfg)
			if l == nil || l.Logger == nil {
				t.Fatal("InitLogger returned incomplete logger")
			}
		})
	}
}

func TestInitLogger_FileOutputIsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.log")

	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	l.WithRun("run-1", "paper").Info("leg submitted", Event("exec_submitted"), Leg("A"))
	l.Debug("below level")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]string{"event": "exec_submitted", "run_id": "run-1", "mode": "paper", "leg": "A", "message": "leg submitted"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("ts key missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	first := GetGlobalLogger()
	if first == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if L() != first {
		t.Error("L() should return the lazily created logger")
	}

	l := InitGlobalLogger(LogConfig{Level: "warn"})
	if L() != l {
		t.Error("InitGlobalLogger did not replace the global logger")
	}
}

func TestLogger_WithRunTagsEveryEntry(t *testing.T) {
	l, buf := captureLogger(zapcore.DebugLevel)

	runLog := l.WithComponent("runner").WithRun("run-7", "live")
	runLog.Info("execution run started", Event("exec_run_start"))
	runLog.Warn("pair blocked", Event("pair_blocked"), PairID(3), Reasons([]string{"data_stale age_seconds=901"}))

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e["run_id"] != "run-7" || e["mode"] != "live" || e["component"] != "runner" {
			t.Errorf("entry missing run tags: %v", e)
		}
	}
	if reasons, ok := entries[1]["reasons"].([]interface{}); !ok || len(reasons) != 1 {
		t.Errorf("reasons = %v", entries[1]["reasons"])
	}

	// Родительский логгер не получает поля дочернего
	l.Info("plain")
	last := decodeLines(t, buf)[2]
	if _, ok := last["run_id"]; ok {
		t.Errorf("parent logger leaked run_id: %v", last)
	}
}

func TestFieldConstructors(t *testing.T) {
	l, buf := captureLogger(zapcore.InfoLevel)

	l.Info("test",
		Event("exec_submitted"),
		PairID(7),
		Symbol("MSFT"),
		OrderID("b-456"),
		ClientOrderID("sa-p7-20260302T150000-A-0123456789abcdef"),
		Action("ENTER_LONG"),
		Leg("B"),
		Side("sell"),
		Status("filled"),
		Quantity("12"),
		Attempt(3),
		HTTPStatus(503),
		Latency(15.5),
		String("url", "http://broker/v2/orders"),
		Dur("sleep", 0),
	)

	entry := decodeLines(t, buf)[0]
	want := map[string]interface{}{
		"event":           "exec_submitted",
		"pair_id":         float64(7),
		"symbol":          "MSFT",
		"order_id":        "b-456",
		"client_order_id": "sa-p7-20260302T150000-A-0123456789abcdef",
		"action":          "ENTER_LONG",
		"leg":             "B",
		"side":            "sell",
		"status":          "filled",
		"qty":             "12",
		"attempt":         float64(3),
		"http_status":     float64(503),
		"latency_ms":      15.5,
		"url":             "http://broker/v2/orders",
	}
	for key, v := range want {
		if entry[key] != v {
			t.Errorf("%s = %v (%T), want %v", key, entry[key], entry[key], v)
		}
	}
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	if l == nil || l.Logger == nil {
		t.Fatal("NewNopLogger returned incomplete logger")
	}
	l.WithRun("r", "paper").Error("dropped", Event("noop"))
}

func BenchmarkLogger_WithRun(b *testing.B) {
	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: os.DevNull})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.WithRun("run-bench", "paper").Info("leg submitted", Event("exec_submitted"), Attempt(i))
	}
}
