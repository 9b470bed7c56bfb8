// Package fetch materializes a catalog file record's bytes onto local
// disk, either by copying a local replica or by pulling from the
// storage-driver's flush endpoint, and gates the result against the
// source's remote checksum. Retry shape is modeled on the teacher's
// internal/backend/retry (a backoff.Operation wrapped in
// backoff.RetryNotify), scaled down to the fixed no-backoff/3-attempt
// policy this system uses instead of the teacher's exponential backoff.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dcache-sapphire/smallfiles-packer/internal/digest"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

// ErrFetchFailed is returned after every network attempt to retrieve a
// replica has been exhausted.
var ErrFetchFailed = errors.New("fetch failed after all retries")

const maxAttempts = 3

// Record is the subset of a catalog file record the fetcher needs.
type Record struct {
	Pnfsid     string
	LocalPath  string // empty if no local replica is configured
	ReplicaURI string
	Path       string // namespace path, used to look up the remote checksum
}

// Fetcher retrieves file bytes from either a local replica or the
// storage driver's flush endpoint, verifying against the source's
// remote checksum when one is available.
type Fetcher struct {
	driverURL string
	webdav    *webdav.Client
	http      *http.Client
}

// New builds a Fetcher against driverURL (config's driver_url) and a
// webdav client used only for the checksum gate.
func New(driverURL string, wd *webdav.Client) *Fetcher {
	return &Fetcher{driverURL: driverURL, webdav: wd, http: http.DefaultClient}
}

// Fetch writes rec's bytes to destPath, retrying per spec and verifying
// against the remote checksum when available. On a persistent checksum
// mismatch it returns an error wrapped with errors.Integrity so the
// caller knows to mark the record "download failed" rather than retry
// indefinitely. Retries use the teacher's own cenkalti/backoff/v4,
// configured for "no backoff between attempts" per spec.md §4.C rather
// than the teacher's exponential policy.
func (f *Fetcher) Fetch(ctx context.Context, rec Record, destPath string) error {
	err := backoff.Retry(func() error {
		err := f.fetchAndVerify(ctx, rec, destPath)
		if err != nil && errors.IsIntegrity(err) {
			_ = fs.RemoveIfExists(destPath)
		}
		return err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(0), maxAttempts-1))

	if err == nil {
		return nil
	}
	if errors.IsIntegrity(err) {
		return err
	}
	return errors.Wrap(ErrFetchFailed, err.Error())
}

// fetchAndVerify downloads rec into destPath and, concurrently, HEADs
// the source for its remote checksum (the errgroup overlap spec.md
// §4.C's checksum gate calls for — one record's own GET and HEAD, never
// a scheduler across records). It then compares digests once both
// finish.
func (f *Fetcher) fetchAndVerify(ctx context.Context, rec Record, destPath string) error {
	var info webdav.Info
	var headErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.fetchOnce(gctx, rec, destPath)
	})
	g.Go(func() error {
		if f.webdav == nil {
			return nil
		}
		info, headErr = f.webdav.Head(gctx, rec.Path)
		return nil // a failed HEAD just means "no checksum gate", never fails the fetch
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if f.webdav == nil || headErr != nil {
		return nil
	}
	return f.verifyChecksum(destPath, info)
}

func (f *Fetcher) verifyChecksum(localPath string, info webdav.Info) error {
	for _, algo := range []string{digest.Adler32, digest.MD5, digest.SHA1} {
		remoteSum, ok := info.Digests[algo]
		if !ok {
			continue
		}

		in, err := fs.Open(localPath)
		if err != nil {
			return errors.Wrap(err, "Open for checksum")
		}
		localSum, err := digest.Sum(algo, in)
		_ = in.Close()
		if err != nil {
			return errors.Wrap(err, "computing checksum")
		}

		if localSum != remoteSum {
			return errors.Integrity(errors.Errorf("checksum mismatch (%s)", algo))
		}
		return nil
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rec Record, destPath string) error {
	if rec.LocalPath != "" {
		if _, err := os.Stat(rec.LocalPath); err == nil {
			return f.copyLocal(rec.LocalPath, destPath)
		}
	}
	return f.fetchRemote(ctx, rec, destPath)
}

func (f *Fetcher) copyLocal(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.Wrap(err, "Open local replica")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.Wrap(err, "Create destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(err, "copy local replica")
	}
	return nil
}

// fetchRemote performs one GET attempt. The caller (Fetch) is the single
// retry loop — up to maxAttempts network attempts total, no backoff
// between them, per spec.md §4.C — so this does not retry on its own; a
// non-200 status is just one more reason the attempt failed.
func (f *Fetcher) fetchRemote(ctx context.Context, rec Record, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.driverURL+"/v1/flush", nil)
	if err != nil {
		return errors.Wrap(err, "http.NewRequest")
	}
	req.Header.Set("file", rec.ReplicaURI)

	resp, err := f.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "client.Do")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("flush returned %v", resp.Status)
	}

	out, err := fs.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "Create destination")
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return errors.Wrap(err, "writing fetched bytes")
	}
	return nil
}

