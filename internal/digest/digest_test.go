package digest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

func TestSumKnownVectors(t *testing.T) {
	data := []byte("hello world")

	for _, tc := range []struct {
		algo string
		want string
	}{
		{MD5, "XrY7u+Ae7tCTyyK7j1rNww=="},
		{SHA1, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{Adler32, "1a0b045d"},
	} {
		got, err := Sum(tc.algo, bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Sum(%s): %v", tc.algo, err)
		}
		if got != tc.want {
			t.Errorf("Sum(%s) = %q, want %q", tc.algo, got, tc.want)
		}
	}
}

func TestCaseInsensitiveAlgorithm(t *testing.T) {
	for _, algo := range []string{"md5", "Md5", "MD5"} {
		if _, err := New(algo, strings.NewReader("x")); err != nil {
			t.Errorf("New(%q) failed: %v", algo, err)
		}
	}
}

func TestUnsupportedDigest(t *testing.T) {
	_, err := New("crc32", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected an error for an unsupported algorithm")
	}
	if !errors.Is(err, ErrUnsupportedDigest) {
		t.Fatalf("expected ErrUnsupportedDigest, got %v", err)
	}
}

func TestReaderAccumulatesWhileStreaming(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	r, err := New(SHA1, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 7)
	for {
		_, err := r.Read(buf)
		if err != nil {
			break
		}
	}

	want, err := Sum(SHA1, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if got := r.String(); got != want {
		t.Errorf("streamed digest = %q, want %q", got, want)
	}
}
