package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLevelChangesAtomicLevel(t *testing.T) {
	if err := Init(Options{Level: "info"}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	SetLevel("debug")
	if Level() != zapcore.DebugLevel {
		t.Fatalf("Level() = %v, want debug", Level())
	}
	SetLevel("error")
	if Level() != zapcore.ErrorLevel {
		t.Fatalf("Level() = %v, want error", Level())
	}
}

func TestInitWritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "tracker.log")
	if err := Init(Options{Level: "info", File: file, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Info("task created", zap.Int64("task_id", 7))
	_ = Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"task_id":7`) {
		t.Fatalf("log file missing structured field: %s", data)
	}
}

func TestWithCarriesFields(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tracker.log")
	if err := Init(Options{Level: "info", File: file, MaxSizeMB: 1}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	With(zap.String("session_id", "conn-1")).Info("WebSocket connection closed")
	_ = Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"conn-1"`) {
		t.Fatalf("log file missing bound field: %s", data)
	}
}
