// Package status writes the one-line status file each daemon maintains at
// /var/log/<role>-<script_id>.status: "Container: ..., Size: .../..., Next:
// ...". It updates the file on a ticker the same way the teacher's
// internal/ui/progress.Updater drives periodic progress callbacks, so a
// slow or stuck tick doesn't also stall the last reported line.
package status

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
)

// Line is the current snapshot written to the status file.
type Line struct {
	Container string
	Used      int64
	Total     int64
	Next      time.Time
}

func (l Line) String() string {
	return fmt.Sprintf("Container: %s, Size: %d/%d, Next: %s",
		l.Container, l.Used, l.Total, l.Next.Format(time.RFC3339))
}

// Writer periodically flushes the latest Line to a file, replacing it
// atomically so a reader never observes a half-written line.
type Writer struct {
	path string

	mu      sync.Mutex
	current Line

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Writer for role/scriptID under dir (conventionally
// /var/log), ticking every interval until Close is called.
func New(dir, role, scriptID string, interval time.Duration) *Writer {
	w := &Writer{
		path:   filepath.Join(dir, fmt.Sprintf("%s-%s.status", role, scriptID)),
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ticker.C:
			_ = w.flush()
		case <-w.done:
			_ = w.flush()
			return
		}
	}
}

// Update replaces the line that will be written on the next tick.
func (w *Writer) Update(l Line) {
	w.mu.Lock()
	w.current = l
	w.mu.Unlock()
}

func (w *Writer) flush() error {
	w.mu.Lock()
	line := w.current
	w.mu.Unlock()

	tmp, err := fs.TempFile(filepath.Dir(w.path), ".status-*")
	if err != nil {
		return errors.Wrap(err, "TempFile")
	}
	if _, err := tmp.WriteString(line.String() + "\n"); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmp.Name())
		return errors.Wrap(err, "WriteString")
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmp.Name())
		return errors.Wrap(err, "Close")
	}
	if err := fs.Rename(tmp.Name(), w.path); err != nil {
		_ = fs.Remove(tmp.Name())
		return errors.Wrap(err, "Rename")
	}
	return nil
}

// Close stops the ticker, flushes one final line and waits for the
// background writer to finish.
func (w *Writer) Close() error {
	w.ticker.Stop()
	close(w.done)
	w.wg.Wait()
	return nil
}

// Path returns the status file's path.
func (w *Writer) Path() string {
	return w.path
}
