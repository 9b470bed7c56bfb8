// Package hashing provides a Reader that transparently hashes everything
// read through it, forwarding io.WriterTo on both sides so that io.Copy
// can still take the fast path when the wrapped reader supports it.
package hashing

import (
	"hash"
	"io"
)

// Reader wraps an io.Reader, calculating the hash of everything read from
// it into the supplied hash.Hash. The caller reads data from the Reader as
// normal, then calls Sum once to retrieve the accumulated digest.
type Reader struct {
	r io.Reader
	h hash.Hash
}

// NewReader wraps rd so that everything read through the returned Reader
// also feeds h.
func NewReader(rd io.Reader, h hash.Hash) *Reader {
	return &Reader{r: rd, h: h}
}

func (h *Reader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hash of the data read so far, appending it to b.
func (h *Reader) Sum(b []byte) []byte {
	return h.h.Sum(b)
}

// WriteTo implements io.WriterTo. It hashes while copying, and lets the
// wrapped reader use its own WriteTo if it has one.
func (h *Reader) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(io.MultiWriter(w, h.h), h.r)
}
