package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFileAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack-a.log")

	l, err := New("pack", "pack-a", path, Info)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Debugw("should not appear")
	l.Infow("hello", "key", "value")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "should not appear") {
		t.Error("debug message should have been filtered out at Info level")
	}
	if !strings.Contains(string(data), "hello") {
		t.Error("info message should have been written")
	}
}

func TestSetLevelRaisesVerbosity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack-a.log")

	l, err := New("pack", "pack-a", path, Warning)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.SetLevel(Debug)
	l.Debugw("now visible")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "now visible") {
		t.Error("debug message should be visible after SetLevel(Debug)")
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("TRACE"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
	if lvl, err := ParseLevel("ERROR"); err != nil || lvl != Error {
		t.Fatalf("ParseLevel(ERROR) = %v, %v", lvl, err)
	}
}
