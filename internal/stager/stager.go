// Package stager implements the inverse of the packer's selection/
// containerization pipeline: given a catalog request for a single file,
// pull the containing archive out of cold storage (with a local idle-time
// cache so repeated requests against the same container don't each
// re-stage it), extract the named entry, and republish it at its original
// path through the storage driver. Grounded on spec.md §4.G; the archive
// cache plumbing is internal/archivecache, shared with the packer's
// teacher-derived eviction idiom.
package stager

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/dcache-sapphire/smallfiles-packer/internal/archivecache"
	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
	"github.com/dcache-sapphire/smallfiles-packer/internal/frontend"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

const archiveFileName = "archive.zip"

// ErrMacaroonInvalid aborts the whole tick, per spec.md §4.G step 2: a 401
// from the WebDAV door means the configured macaroon is no longer valid
// and every remaining stage record this tick would fail the same way.
var ErrMacaroonInvalid = errors.New("stager: macaroon invalid")

// Gateway is the subset of internal/catalog.Gateway the stager needs.
type Gateway interface {
	StageNew(ctx context.Context) ([]catalogmodel.Stage, error)
	StageUpdate(ctx context.Context, pnfsid string, status catalogmodel.StageStatus) error
}

// Stager services stage requests: cached archive download, single-entry
// extraction, and re-push through the storage driver.
type Stager struct {
	gateway   Gateway
	cache     *archivecache.Cache
	webdav    *webdav.Client
	frontend  *frontend.Client
	driverURL string
	http      *http.Client
}

// New builds a Stager. cache is the on-disk idle-time cache of downloaded
// archives (shared nowhere else); wd and fe are the WebDAV door and
// catalog frontend clients; driverURL is config's driver_url, used for
// the final /v1/stage POST.
func New(gateway Gateway, cache *archivecache.Cache, wd *webdav.Client, fe *frontend.Client, driverURL string) *Stager {
	return &Stager{
		gateway:   gateway,
		cache:     cache,
		webdav:    wd,
		frontend:  fe,
		driverURL: driverURL,
		http:      http.DefaultClient,
	}
}

// Tick processes every status=new stage record once. A macaroon rejection
// aborts the whole tick immediately, per spec.md §4.G step 2; any other
// per-record failure just marks that record a failure and continues.
func (s *Stager) Tick(ctx context.Context) error {
	records, err := s.gateway.StageNew(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.stageOne(ctx, rec); err != nil {
			if errors.Is(err, ErrMacaroonInvalid) {
				return err
			}
			debug.Log("stager: %s: %v", rec.Pnfsid, err)
		}
	}
	return nil
}

// stageOne walks rec's locations until one produces the file, per spec.md
// §4.G: extract the archive pnfsid, fetch (or reuse) the cached archive,
// read the named entry, and POST it to the driver.
func (s *Stager) stageOne(ctx context.Context, rec catalogmodel.Stage) error {
	for _, location := range rec.Locations {
		if ctx.Err() != nil {
			return nil
		}

		_, archivePnfsid, err := catalogmodel.ParseLocation(location)
		if err != nil {
			debug.Log("stager: %s: skipping malformed location %q: %v", rec.Pnfsid, location, err)
			continue
		}

		archivePath, err := s.ensureCached(ctx, archivePnfsid)
		if err != nil {
			if errors.Is(err, ErrMacaroonInvalid) {
				return err
			}
			debug.Log("stager: %s: location %s unavailable: %v", rec.Pnfsid, location, err)
			continue
		}

		if err := s.cache.Touch(archivePnfsid); err != nil {
			debug.Log("stager: %s: touch %s: %v", rec.Pnfsid, archivePnfsid, err)
		}

		data, err := readEntry(archivePath, rec.Pnfsid)
		if err != nil {
			debug.Log("stager: %s: entry missing from %s: %v", rec.Pnfsid, archivePnfsid, err)
			continue
		}

		if err := s.push(ctx, rec, data); err != nil {
			debug.Log("stager: %s: push failed: %v", rec.Pnfsid, err)
			continue
		}

		return s.gateway.StageUpdate(ctx, rec.Pnfsid, catalogmodel.StageDone)
	}

	return s.gateway.StageUpdate(ctx, rec.Pnfsid, catalogmodel.StageFailure)
}

// ensureCached returns the local path of archivePnfsid's downloaded
// container, downloading it from the WebDAV door on a cache miss via the
// frontend's path resolution.
func (s *Stager) ensureCached(ctx context.Context, archivePnfsid string) (string, error) {
	dir, err := s.cache.Path(archivePnfsid)
	if err != nil {
		return "", err
	}
	archivePath := filepath.Join(dir, archiveFileName)

	if s.cache.Has(archivePnfsid) {
		if _, err := fs.Stat(archivePath); err == nil {
			return archivePath, nil
		}
	}

	nsPath, err := s.frontend.ResolvePath(ctx, archivePnfsid)
	if err != nil {
		return "", errors.Wrap(err, "resolving archive path")
	}

	rc, err := s.webdav.Get(ctx, nsPath)
	if err != nil {
		if errors.Is(err, webdav.ErrUnauthorized) {
			return "", ErrMacaroonInvalid
		}
		return "", errors.Wrap(err, "downloading archive")
	}
	defer rc.Close()

	dir, err = s.cache.Reserve(archivePnfsid)
	if err != nil {
		return "", err
	}
	archivePath = filepath.Join(dir, archiveFileName)

	out, err := fs.Create(archivePath)
	if err != nil {
		return "", errors.Wrap(err, "creating cached archive")
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		s.cache.Evict(archivePnfsid)
		return "", errors.Wrap(err, "writing cached archive")
	}
	return archivePath, nil
}

func readEntry(archivePath, pnfsid string) ([]byte, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "opening cached archive")
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != pnfsid {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrap(err, "opening archive entry")
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, errors.Errorf("entry %s not found in archive", pnfsid)
}

// push POSTs data to the driver's stage endpoint as a multipart file,
// with the destination path carried in the "file" header per spec.md §6.
func (s *Stager) push(ctx context.Context, rec catalogmodel.Stage, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", rec.Pnfsid)
	if err != nil {
		return errors.Wrap(err, "CreateFormFile")
	}
	if _, err := part.Write(data); err != nil {
		return errors.Wrap(err, "writing multipart body")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "closing multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.driverURL+"/v1/stage", &body)
	if err != nil {
		return errors.Wrap(err, "http.NewRequest")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("file", rec.Filepath)

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "client.Do")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		return errors.Errorf("stage POST returned %s", resp.Status)
	}
	return nil
}
