package container

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestNewAllocatesUUIDNamedFile(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1000, 0, VerifyFilelist)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c.Path()); err != nil {
		t.Fatalf("container file not created: %v", err)
	}
	if filepath.Dir(c.Path()) != dir {
		t.Errorf("container created outside %q: %q", dir, c.Path())
	}
}

func TestAddTracksSizeAndOldMode(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 100, 500, VerifyFilelist)
	if err != nil {
		t.Fatal(err)
	}

	c.Add(Entry{Pnfsid: "p1", Size: 40, Ctime: 1000})
	if c.IsFull() {
		t.Error("should not be full yet")
	}
	if c.OldMode() {
		t.Error("should not be old-mode yet")
	}

	c.Add(Entry{Pnfsid: "p2", Size: 70, Ctime: 100}) // ctime < threshold
	if !c.IsFull() {
		t.Error("should be full after 110 bytes reserved")
	}
	if !c.OldMode() {
		t.Error("should be old-mode after a record below threshold")
	}
}

func TestShouldDiscardWhenNeitherFullNorOld(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1000, 0, VerifyFilelist)
	if err != nil {
		t.Fatal(err)
	}
	c.Add(Entry{Pnfsid: "p1", Size: 10, Ctime: 1000})
	if !c.ShouldDiscard() {
		t.Error("small, non-old container should be discarded")
	}
}

func TestSealAndVerifyFilelist(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1, 0, VerifyFilelist)
	if err != nil {
		t.Fatal(err)
	}

	scratch := t.TempDir()
	p1 := filepath.Join(scratch, "p1")
	p2 := filepath.Join(scratch, "p2")
	if err := os.WriteFile(p1, []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte("bbbb"), 0644); err != nil {
		t.Fatal(err)
	}

	c.Add(Entry{Pnfsid: "p1", Size: 3})
	c.Add(Entry{Pnfsid: "p2", Size: 4})

	fetched := map[string]string{"p1": p1, "p2": p2}
	if err := c.Seal(fetched); err != nil {
		t.Fatal(err)
	}
	if err := c.Verify(nil); err != nil {
		t.Fatal(err)
	}

	r, err := zip.OpenReader(c.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if len(r.File) != 2 {
		t.Errorf("archive has %d entries, want 2", len(r.File))
	}
}

func TestSealFailsOnMissingFetchedEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1, 0, VerifyFilelist)
	if err != nil {
		t.Fatal(err)
	}

	scratch := t.TempDir()
	p1 := filepath.Join(scratch, "p1")
	if err := os.WriteFile(p1, []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}

	c.Add(Entry{Pnfsid: "p1", Size: 3})
	c.Add(Entry{Pnfsid: "p2", Size: 3}) // never fetched, missing from fetched map

	if err := c.Seal(map[string]string{"p1": p1}); err == nil {
		t.Fatal("expected Seal to fail on missing fetched entry")
	}
}

func TestVerifyChksumFallsBackToFilelist(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1, 0, VerifyChecksum)
	if err != nil {
		t.Fatal(err)
	}
	scratch := t.TempDir()
	p1 := filepath.Join(scratch, "p1")
	if err := os.WriteFile(p1, []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}
	c.Add(Entry{Pnfsid: "p1", Size: 3})
	if err := c.Seal(map[string]string{"p1": p1}); err != nil {
		t.Fatal(err)
	}

	var loggedWarning string
	if err := c.Verify(func(msg string) { loggedWarning = msg }); err != nil {
		t.Fatal(err)
	}
	if loggedWarning == "" {
		t.Error("expected a warning to be logged for verify=chksum")
	}
}

func TestParseVerifyMode(t *testing.T) {
	cases := map[string]VerifyMode{"filelist": VerifyFilelist, "chksum": VerifyChecksum, "off": VerifyOff}
	for raw, want := range cases {
		got, err := ParseVerifyMode(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ParseVerifyMode(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseVerifyMode("bogus"); err == nil {
		t.Error("expected error for invalid verify mode")
	}
}
