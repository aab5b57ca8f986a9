package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "celerypulse.log")
	if err := Init(Config{Level: "info", Format: "text", OutputPaths: []string{path}}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	Named("dispatcher").Info("hello", slog.String("queue", "default"))
	Named("dispatcher").Debug("hidden")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "component=dispatcher") || !strings.Contains(text, "queue=default") {
		t.Fatalf("unexpected log output: %s", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug record should be filtered: %s", text)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 10)
	for i := 0; i < 4; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected at most 2 backups, stat err = %v", err)
	}
}
