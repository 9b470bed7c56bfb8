package status

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestWriterFlushesOnTickAndClose(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "pack", "pack-a", 10*time.Millisecond)

	w.Update(Line{Container: "abc123", Used: 10, Total: 100})

	time.Sleep(50 * time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Container: abc123") {
		t.Errorf("status file contents: %q", data)
	}
	if !strings.Contains(string(data), "Size: 10/100") {
		t.Errorf("status file contents: %q", data)
	}
}

func TestLineFormat(t *testing.T) {
	l := Line{Container: "c1", Used: 1, Total: 2, Next: time.Unix(0, 0).UTC()}
	want := "Container: c1, Size: 1/2, Next: 1970-01-01T00:00:00Z"
	if got := l.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
