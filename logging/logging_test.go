package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"estate_hunter/config"
)

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunter.log")
	w, err := NewRotatingWriter(path, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()

	for _, chunk := range []string{"first-line\n", "second-line\n", "third-line\n"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup, got %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup, got %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("expected at most 2 backups")
	}

	newest, _ := os.ReadFile(path + ".1")
	if !bytes.Contains(newest, []byte("third-line")) {
		t.Fatalf("expected newest backup to hold the last write, got %q", newest)
	}
}

func TestSetup_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hunter.log")
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "debug", File: path, MaxSizeMB: 1, Backups: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("run finished")
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"run finished"`) {
		t.Fatalf("expected JSON line in log file, got %q", data)
	}
}
