// Package digest computes the checksums the dCache HTTP door and the
// catalog exchange in Want-Digest/Digest headers: MD5 (base64), SHA-1
// (hex) and Adler-32 (zero-padded hex). It wraps hash.Hash the same way
// internal/hashing wraps an io.Reader, so a digest can be accumulated
// while a file streams through a fetch or a container write without a
// second pass over the bytes.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
	"strings"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/hashing"
)

// ErrUnsupportedDigest is returned by New for an algorithm tag this package
// does not know how to compute.
var ErrUnsupportedDigest = errors.New("unsupported digest algorithm")

// adlerBlockSize matches the upstream packer's _adler32 helper, which reads
// in 256 MiB chunks; it has no bearing on the result, only on how much
// memory a single Read call touches.
const adlerBlockSize = 256 * 1024 * 1024

// Algorithm names as they appear in Want-Digest/Digest headers.
const (
	MD5     = "MD5"
	SHA1    = "SHA1"
	Adler32 = "ADLER32"
)

// Reader streams data through a selected hash.Hash and renders the result
// in the wire format the catalog expects for that algorithm.
type Reader struct {
	*hashing.Reader
	algo string
}

// New wraps rd so that reading through the returned Reader accumulates algo's
// digest. The algorithm tag is matched case-insensitively.
func New(algo string, rd io.Reader) (*Reader, error) {
	h, canon, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	return &Reader{Reader: hashing.NewReader(rd, h), algo: canon}, nil
}

func newHash(algo string) (hash.Hash, string, error) {
	switch strings.ToUpper(algo) {
	case MD5:
		return md5.New(), MD5, nil
	case SHA1:
		return sha1.New(), SHA1, nil
	case Adler32:
		return adler32.New(), Adler32, nil
	default:
		return nil, "", errors.Wrapf(ErrUnsupportedDigest, "%q", algo)
	}
}

// String renders the accumulated digest in the format used on the wire for
// this algorithm: base64 for MD5, lowercase hex for SHA-1 and Adler-32.
func (r *Reader) String() string {
	return Format(r.algo, r.Sum(nil))
}

// Format renders sum (the raw bytes from a hash.Hash.Sum call) in the wire
// format for algo.
func Format(algo string, sum []byte) string {
	switch strings.ToUpper(algo) {
	case MD5:
		return base64.StdEncoding.EncodeToString(sum)
	case SHA1:
		return hex.EncodeToString(sum)
	case Adler32:
		// adler32.New().Sum returns 4 big-endian bytes; the wire format is
		// the zero-padded lowercase hex of the unsigned 32-bit value,
		// matching zlib.adler32's convention that the upstream packer
		// relies on.
		v := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
		return fmt.Sprintf("%08x", v)
	default:
		return hex.EncodeToString(sum)
	}
}

// Sum computes algo's digest over the entirety of rd in one call, using
// adlerBlockSize-sized reads for Adler-32 to mirror the upstream packer's
// memory footprint; other algorithms use io.Copy's default buffering.
func Sum(algo string, rd io.Reader) (string, error) {
	h, canon, err := newHash(algo)
	if err != nil {
		return "", err
	}

	if canon == Adler32 {
		buf := make([]byte, adlerBlockSize)
		if _, err := io.CopyBuffer(h, rd, buf); err != nil {
			return "", errors.Wrap(err, "Sum")
		}
	} else {
		if _, err := io.Copy(h, rd); err != nil {
			return "", errors.Wrap(err, "Sum")
		}
	}

	return Format(canon, h.Sum(nil)), nil
}
