package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Error("expected error for invalid level")
		}
	})

	t.Run("Console", func(t *testing.T) {
		log, err := New(Config{Level: "debug", Format: "console"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		log.WithComponent("test").WithRequestID("abc").WithModel(100).Debug("hello")
	})

	t.Run("FileOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nmt.log")
		log, err := New(Config{
			Level:  "info",
			Format: "json",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		log.WithComponent("pipeline").Info("translated")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read log file: %v", err)
		}
		if !strings.Contains(string(data), `"component":"pipeline"`) {
			t.Errorf("component field missing from log file: %s", data)
		}
	})
}
