package archivecache

import (
	"testing"
	"time"
)

const testPnfsid = "00020000000000000000000000000000000A"

func TestReserveTouchAndEvict(t *testing.T) {
	c, err := Open(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if c.Has(testPnfsid) {
		t.Fatal("fresh cache should not already have the container")
	}

	dir, err := c.Reserve(testPnfsid)
	if err != nil {
		t.Fatal(err)
	}
	if dir == "" {
		t.Fatal("expected a non-empty extraction directory")
	}
	if !c.Has(testPnfsid) {
		t.Fatal("Reserve should make Has true")
	}
	if err := c.Touch(testPnfsid); err != nil {
		t.Fatal(err)
	}

	c.Evict(testPnfsid)
	if c.Has(testPnfsid) {
		t.Fatal("Evict should remove the container from the index")
	}
}

func TestRejectsNonPnfsidKeys(t *testing.T) {
	c, err := Open(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reserve("../escape"); err == nil {
		t.Fatal("expected an error for a non-pnfsid key")
	}
}

func TestIdleEviction(t *testing.T) {
	c, err := Open(t.TempDir(), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Reserve(testPnfsid); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 tracked container, got %d", c.Len())
	}

	time.Sleep(50 * time.Millisecond)

	if c.Has(testPnfsid) {
		t.Fatal("container should have expired from the index")
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()

	c1, err := Open(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Reserve(testPnfsid); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !c2.Has(testPnfsid) {
		t.Fatal("reopening the cache should rediscover the extraction directory on disk")
	}
}
