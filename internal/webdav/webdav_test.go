package webdav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHeadParsesDigestAndETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Want-Digest"); got != WantDigest {
			t.Errorf("Want-Digest header = %q, want %q", got, WantDigest)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("Authorization header = %q", got)
		}
		w.Header().Set("Digest", "md5=abc123,SHA1=def456")
		w.Header().Set("ETag", `"0000AB_rest"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok123", nil)
	info, err := c.Head(context.Background(), "/store/archive.zip")
	if err != nil {
		t.Fatal(err)
	}
	if info.Digests["MD5"] != "abc123" || info.Digests["SHA1"] != "def456" {
		t.Errorf("digests = %v", info.Digests)
	}
	if info.ETag != `"0000AB_rest"` {
		t.Errorf("etag = %q", info.ETag)
	}
}

func TestHeadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil)
	_, err := c.Head(context.Background(), "/missing")
	if !IsNotExist(err) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestHeadUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "badtoken", nil)
	_, err := c.Head(context.Background(), "/anything")
	if err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPutAndGet(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			received = string(b)
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			_, _ = w.Write([]byte(received))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil)
	body := strings.NewReader("container bytes")
	if err := c.Put(context.Background(), "/dest/archive.zip", body, int64(body.Len())); err != nil {
		t.Fatal(err)
	}

	rc, err := c.Get(context.Background(), "/dest/archive.zip")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "container bytes" {
		t.Errorf("Get returned %q", got)
	}
}

func TestParseDigest(t *testing.T) {
	m := parseDigest("adler32=1a0b045d, MD5=XrY7u+Ae7tCTyyK7j1rNww==")
	if m["ADLER32"] != "1a0b045d" {
		t.Errorf("adler32 = %q", m["ADLER32"])
	}
	if m["MD5"] != "XrY7u+Ae7tCTyyK7j1rNww==" {
		t.Errorf("md5 = %q", m["MD5"])
	}
}
