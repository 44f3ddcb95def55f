package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerDefaultsToConsole(t *testing.T) {
	l, err := NewLogger(&Config{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.consoleEnabled || l.fileEnabled {
		t.Fatal("expected console-only default logger")
	}
	l.Info("hello")
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pnaflowd.log")
	l, err := NewLogger(&Config{
		File: FileConfig{Enabled: true, Level: "info", Format: "text", Path: path},
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	l.Info("flow dumped", "table", 1)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the log file to contain the logged line")
	}
}
