package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRollingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webtm.log")

	w, err := newRollingFileWriter(Config{FilePath: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("newRollingFileWriter: %v", err)
	}
	defer w.Close()

	// Force the threshold low so a second write triggers rotation.
	w.maxBytes = 8
	if _, err := w.Write([]byte("0123456\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("89\n")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var current, rotated int
	for _, e := range entries {
		switch {
		case e.Name() == "webtm.log":
			current++
		case strings.HasPrefix(e.Name(), "webtm.log."):
			rotated++
		}
	}
	if current != 1 || rotated != 1 {
		t.Fatalf("after rotation: current=%d rotated=%d entries=%v", current, rotated, entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "89\n" {
		t.Errorf("current file contents = %q", data)
	}
}

func TestRollingFileWriterEmptyPathDisabled(t *testing.T) {
	w, err := newRollingFileWriter(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil writer for empty path")
	}
}
