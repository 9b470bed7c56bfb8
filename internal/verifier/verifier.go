// Package verifier runs the per-tick symmetric-diff check and upload
// described in spec.md §4.F: for every sealed local container, compare
// its ZIP64 central directory against the catalog's archived:<path>
// records, upload it to the WebDAV door if it isn't there yet, compare
// digests, and promote the cross-checked entries to verified once the
// remote copy is confirmed. The missing/orphaned symmetric-diff shape
// is grounded on the teacher's internal/checker.Packs, which does the
// same present-in-index-but-not-repo / present-in-repo-but-not-index
// comparison for restic's own pack files.
package verifier

import (
	"archive/zip"
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/digest"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

// uploadAttempts and uploadInterval mirror spec.md §4.F's "retry up to
// 3 + 1 attempts with a 10s sleep" PUT policy.
const (
	uploadAttempts = 4
	uploadInterval = 10 * time.Second
)

// ErrUploadFailed is returned by Tick when a container's PUT never
// succeeds after exhausting uploadAttempts; the caller (cmd/verify) is
// expected to exit non-zero so an operator can intervene, per spec.md
// §4.F step 3.
var ErrUploadFailed = errors.New("archive upload failed after all retries")

// Gateway is the subset of internal/catalog.Gateway the verifier needs.
type Gateway interface {
	ListArchives(ctx context.Context) ([]catalogmodel.Archive, error)
	ArchivedEntries(ctx context.Context, cPath string) ([]catalogmodel.File, error)
	ResetToNew(ctx context.Context, pnfsid string) error
	Verify(ctx context.Context, pnfsid, cPath, archiveURL string) error
	InsertFailure(ctx context.Context, archivePath, pnfsid string) error
	InsertArchiveFailure(ctx context.Context, pnfsid, location string, files []string) error
	ForgetArchive(ctx context.Context, path string) error
}

// Verifier runs one tick of the upload-and-promote algorithm against
// every outstanding archive record.
type Verifier struct {
	gateway Gateway
	webdav  *webdav.Client
}

// New builds a Verifier against gateway and wd (the shared WebDAV door
// client also used by internal/fetch).
func New(gateway Gateway, wd *webdav.Client) *Verifier {
	return &Verifier{gateway: gateway, webdav: wd}
}

// Tick processes every outstanding archive record once. A single
// container's failure is logged and skipped (the next tick retries it)
// except for an exhausted upload, which is fatal per spec.md §4.F.
func (v *Verifier) Tick(ctx context.Context) error {
	archives, err := v.gateway.ListArchives(ctx)
	if err != nil {
		return err
	}

	for _, a := range archives {
		if ctx.Err() != nil {
			return nil
		}
		if err := v.verifyOne(ctx, a); err != nil {
			if errors.Is(err, ErrUploadFailed) {
				return err
			}
			debug.Log("verifier: %s: %v", a.Path, err)
		}
	}
	return nil
}

func (v *Verifier) verifyOne(ctx context.Context, a catalogmodel.Archive) error {
	entryNames, err := listZipEntries(a.Path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			debug.Log("verifier: %s: not yet a valid zip, skipping this tick", a.Path)
			return nil
		}
		if fs.IsNotExist(err) {
			return v.recoverMissingContainer(ctx, a)
		}
		return err
	}

	catalogEntries, err := v.gateway.ArchivedEntries(ctx, a.Path)
	if err != nil {
		return err
	}

	cross, err := v.crossCheck(ctx, a.Path, entryNames, catalogEntries)
	if err != nil {
		return err
	}
	if len(cross) == 0 {
		return nil
	}

	remoteURL := remotePath(a.DestPath, a.Path)
	info, err := v.webdav.Head(ctx, remoteURL)
	switch {
	case err == nil:
		return v.reconcileAgainstRemote(ctx, a, remoteURL, info, cross)
	case webdav.IsNotExist(err):
		return v.uploadAndReconcile(ctx, a, remoteURL, cross)
	default:
		return err
	}
}

// crossCheck implements spec.md §4.F step 2: files present only in the
// sealed archive get a failures record (the packer claimed them but the
// catalog lost track), files present only in the catalog's archived:P
// set are reset to new so a future tick re-packs them. Its shape
// mirrors internal/checker.Packs's missing/orphaned split.
func (v *Verifier) crossCheck(ctx context.Context, cPath string, entryNames []string, catalogEntries []catalogmodel.File) ([]catalogmodel.File, error) {
	inArchive := make(map[string]bool, len(entryNames))
	for _, n := range entryNames {
		inArchive[n] = true
	}

	var cross []catalogmodel.File
	inCatalog := make(map[string]bool, len(catalogEntries))
	for _, rec := range catalogEntries {
		inCatalog[rec.Pnfsid] = true
		if !inArchive[rec.Pnfsid] {
			// in-catalog-only: the packer claimed it but never fetched it.
			if err := v.gateway.ResetToNew(ctx, rec.Pnfsid); err != nil {
				return nil, err
			}
			continue
		}
		cross = append(cross, rec)
	}

	for name := range inArchive {
		if !inCatalog[name] {
			// in-archive-only: sealed but the catalog record went missing.
			if err := v.gateway.InsertFailure(ctx, cPath, name); err != nil {
				return nil, err
			}
		}
	}
	return cross, nil
}

// recoverMissingContainer implements spec.md §4.F step 1's FileNotFound
// branch: the local container vanished before it could be verified, so
// every entry still claimed against it goes back to new and the
// dangling archive record is dropped.
func (v *Verifier) recoverMissingContainer(ctx context.Context, a catalogmodel.Archive) error {
	entries, err := v.gateway.ArchivedEntries(ctx, a.Path)
	if err != nil {
		return err
	}
	for _, rec := range entries {
		if err := v.gateway.ResetToNew(ctx, rec.Pnfsid); err != nil {
			return err
		}
	}
	return v.gateway.ForgetArchive(ctx, a.Path)
}

func (v *Verifier) reconcileAgainstRemote(ctx context.Context, a catalogmodel.Archive, remoteURL string, info webdav.Info, cross []catalogmodel.File) error {
	match, err := v.digestMatchesLocal(a.Path, info)
	if err != nil {
		return err
	}
	if match {
		return v.promote(ctx, a, cross, info)
	}

	names := make([]string, len(cross))
	for i, rec := range cross {
		names[i] = rec.Pnfsid
	}
	if err := v.gateway.InsertArchiveFailure(ctx, path.Base(a.Path), remoteURL, names); err != nil {
		return err
	}
	for _, rec := range cross {
		if err := v.gateway.ResetToNew(ctx, rec.Pnfsid); err != nil {
			return err
		}
	}
	if err := v.gateway.ForgetArchive(ctx, a.Path); err != nil {
		return err
	}
	return fs.RemoveIfExists(a.Path)
}

// uploadAndReconcile implements spec.md §4.F step 3: the remote copy
// doesn't exist yet, so PUT it (retrying per the teacher's
// cenkalti/backoff/v4 policy used elsewhere in this module, here fixed
// at a 10s constant interval and 3+1 attempts), then HEAD again and
// reconcile digests exactly as the already-uploaded branch does.
func (v *Verifier) uploadAndReconcile(ctx context.Context, a catalogmodel.Archive, remoteURL string, cross []catalogmodel.File) error {
	op := func() error {
		f, err := fs.Open(a.Path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return backoff.Permanent(err)
		}
		return v.webdav.Put(ctx, remoteURL, f, stat.Size())
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(uploadInterval), uploadAttempts-1)
	if err := backoff.Retry(op, policy); err != nil {
		return errors.Wrap(ErrUploadFailed, err.Error())
	}

	info, err := v.webdav.Head(ctx, remoteURL)
	if err != nil {
		return err
	}

	match, err := v.digestMatchesLocal(a.Path, info)
	if err != nil {
		return err
	}
	if match {
		return v.promote(ctx, a, cross, info)
	}

	// step 4: digests disagree even right after our own upload — delete
	// the remote and let the next tick retry the whole sequence.
	return v.webdav.Delete(ctx, remoteURL)
}

func (v *Verifier) promote(ctx context.Context, a catalogmodel.Archive, cross []catalogmodel.File, info webdav.Info) error {
	containerPnfsid, err := catalogmodel.ParseETag(info.ETag)
	if err != nil {
		return err
	}

	for _, rec := range cross {
		archiveURL := catalogmodel.FormatArchiveURL(catalogmodel.ArchiveURL{
			HSMType:         rec.HSMType,
			HSMName:         rec.HSMName,
			Store:           rec.Store,
			Group:           rec.Group,
			Pnfsid:          rec.Pnfsid,
			ContainerPnfsid: containerPnfsid,
		})
		if err := v.gateway.Verify(ctx, rec.Pnfsid, a.Path, archiveURL); err != nil {
			return err
		}
	}

	if err := v.gateway.ForgetArchive(ctx, a.Path); err != nil {
		return err
	}
	return fs.RemoveIfExists(a.Path)
}

func (v *Verifier) digestMatchesLocal(localPath string, info webdav.Info) (bool, error) {
	for _, algo := range []string{digest.Adler32, digest.MD5, digest.SHA1} {
		want, ok := info.Digests[algo]
		if !ok {
			continue
		}
		f, err := fs.Open(localPath)
		if err != nil {
			return false, err
		}
		got, err := digest.Sum(algo, f)
		f.Close()
		if err != nil {
			return false, err
		}
		return got == want, nil
	}
	// No digest the remote offered is one we know how to compute; treat
	// this as a mismatch so the caller takes its digest-mismatch path
	// rather than silently promoting an unverified archive.
	return false, nil
}

func listZipEntries(localPath string) ([]string, error) {
	r, err := zip.OpenReader(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, err
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

func remotePath(destPath, localPath string) string {
	return path.Join(destPath, filepath.Base(localPath))
}
