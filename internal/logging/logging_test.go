package logging

import (
	"path/filepath"
	"testing"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !log.Core().Enabled(0) { // 0 == zapcore.InfoLevel
		t.Fatal("expected info level enabled by default")
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "not-a-level"}); err == nil {
		t.Fatal("expected an error for an invalid level")
	}
}

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vhgateway.log")
	log, err := New(Options{FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello")
	log.Sync()
}

func TestNonZero(t *testing.T) {
	if got := nonZero(0, 42); got != 42 {
		t.Fatalf("expected default 42, got %d", got)
	}
	if got := nonZero(7, 42); got != 7 {
		t.Fatalf("expected explicit 7, got %d", got)
	}
}
