package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

func TestFetchCopiesLocalReplicaWhenPresent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "replica")
	if err := os.WriteFile(src, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dest")

	f := New("http://unused", nil)
	if err := f.Fetch(context.Background(), Record{Pnfsid: "p1", LocalPath: src}, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("dest contents = %q", got)
	}
}

func TestFetchFallsBackToRemoteFlush(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("file")
		_, _ = w.Write([]byte("remote bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "dest")

	f := New(srv.URL, nil)
	err := f.Fetch(context.Background(), Record{Pnfsid: "p2", ReplicaURI: "replica://x"}, dst)
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader != "replica://x" {
		t.Errorf("file header = %q", gotHeader)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "remote bytes" {
		t.Errorf("dest contents = %q", got)
	}
}

func TestFetchFailsAfterExhaustingRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(srv.URL, nil)
	err := f.Fetch(context.Background(), Record{Pnfsid: "p3", ReplicaURI: "replica://y"}, filepath.Join(dir, "dest"))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
}

func TestFetchChecksumMismatchIsIntegrityError(t *testing.T) {
	remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Digest", "md5=not-the-real-digest")
		w.WriteHeader(http.StatusOK)
	}))
	defer remoteSrv.Close()

	flushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer flushSrv.Close()

	dir := t.TempDir()
	wd := webdav.New(remoteSrv.URL, "tok", nil)
	f := New(flushSrv.URL, wd)

	err := f.Fetch(context.Background(), Record{Pnfsid: "p4", ReplicaURI: "replica://z", Path: "/foo"}, filepath.Join(dir, "dest"))
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if !errors.IsIntegrity(err) {
		t.Errorf("err = %v, want an integrity error", err)
	}
}

func TestFetchChecksumMatchSucceeds(t *testing.T) {
	// MD5 of "hello world" base64: XrY7u+Ae7tCTyyK7j1rNww==
	remoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Digest", "md5=XrY7u+Ae7tCTyyK7j1rNww==")
		w.WriteHeader(http.StatusOK)
	}))
	defer remoteSrv.Close()

	flushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer flushSrv.Close()

	dir := t.TempDir()
	wd := webdav.New(remoteSrv.URL, "tok", nil)
	f := New(flushSrv.URL, wd)

	err := f.Fetch(context.Background(), Record{Pnfsid: "p5", ReplicaURI: "replica://w", Path: "/foo"}, filepath.Join(dir, "dest"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
