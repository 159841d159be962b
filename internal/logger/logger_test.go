package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONHandlerEmitsLevelTimeMessage(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, slog.LevelDebug))
	log.Info("Starting Hello World server", "addr", "127.0.0.1:0")
	log.Debug("request served")

	sc := bufio.NewScanner(&buf)
	lines := 0
	for sc.Scan() {
		lines++
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not JSON: %v", lines, err)
		}
		for _, key := range []string{FieldLevel, FieldTime, FieldMessage} {
			if _, ok := rec[key]; !ok {
				t.Fatalf("line %d missing %q: %s", lines, key, sc.Text())
			}
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 records, got %d", lines)
	}
}

func TestJSONHandlerLowercasesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, slog.LevelDebug))
	log.Warn("spinning down")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec[FieldLevel] != "warn" {
		t.Fatalf("level = %v", rec[FieldLevel])
	}
}

func TestFileConfigPath(t *testing.T) {
	if (FileConfig{File: "/tmp/x.log"}).Path() != "/tmp/x.log" {
		t.Fatal("explicit file path not honored")
	}
	got := (FileConfig{Dir: "/var/log/tc"}).Path()
	if got != filepath.Join("/var/log/tc", DefaultFileName) {
		t.Fatalf("dir mode path = %q", got)
	}
	if (FileConfig{}).Path() != "" {
		t.Fatal("empty config should have no path")
	}
}

func TestNewFileRunWritesParseableRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")
	run, err := NewFileRun(FileConfig{File: path}, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewFileRun: %v", err)
	}
	run.Info("Starting Hello World server")
	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"message":"Starting Hello World server"`) {
		t.Fatalf("message field not found: %s", b)
	}
}

func TestNewFileRunCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	run, err := NewFileRun(FileConfig{Dir: dir}, slog.LevelDebug)
	if err != nil {
		t.Fatalf("NewFileRun: %v", err)
	}
	run.Info("hello")
	_ = run.Close()
	if _, err := os.Stat(filepath.Join(dir, DefaultFileName)); err != nil {
		t.Fatalf("active log file not created: %v", err)
	}
}
