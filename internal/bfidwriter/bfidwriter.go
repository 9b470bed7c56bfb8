// Package bfidwriter is a narrower, one-shot variant of internal/verifier:
// it walks every outstanding archive record, cross-checks its sealed
// filelist against the catalog exactly like the verifier does, then always
// PUTs the container and re-stamps archiveUrl/state from the resulting
// HEAD — regardless of whether a remote copy already exists. It exists for
// operators re-stamping BFID metadata lost to a catalog restore, without
// waiting for (or fighting) the normal verify tick's "already uploaded"
// fast path. Grounded on original_source/packer/src/writebfids.py, the
// earlier standalone tool spec.md's distillation folded into the unified
// verifier; this package keeps it available as cmd/writebfids.
package bfidwriter

import (
	"archive/zip"
	"context"
	"path"
	"path/filepath"

	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

// Gateway is the subset of internal/catalog.Gateway this tool needs; it is
// the same shape as internal/verifier.Gateway, kept separate so the two
// packages don't need to share an internal dependency just for an
// interface declaration.
type Gateway interface {
	ListArchives(ctx context.Context) ([]catalogmodel.Archive, error)
	ArchivedEntries(ctx context.Context, cPath string) ([]catalogmodel.File, error)
	ResetToNew(ctx context.Context, pnfsid string) error
	Verify(ctx context.Context, pnfsid, cPath, archiveURL string) error
	InsertFailure(ctx context.Context, archivePath, pnfsid string) error
	ForgetArchive(ctx context.Context, path string) error
}

// Writer re-stamps archiveUrl/state for every outstanding archive record
// by unconditionally re-uploading and re-HEADing it.
type Writer struct {
	gateway Gateway
	webdav  *webdav.Client
}

// New builds a Writer against gateway and wd (the shared WebDAV client).
func New(gateway Gateway, wd *webdav.Client) *Writer {
	return &Writer{gateway: gateway, webdav: wd}
}

// Run processes every outstanding archive once, logging and continuing
// past any single archive's failure so one bad container doesn't stop the
// whole reconciliation pass.
func (w *Writer) Run(ctx context.Context) error {
	archives, err := w.gateway.ListArchives(ctx)
	if err != nil {
		return err
	}

	for _, a := range archives {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.writeOne(ctx, a); err != nil {
			debug.Log("writebfids: %s: %v", a.Path, err)
		}
	}
	return nil
}

func (w *Writer) writeOne(ctx context.Context, a catalogmodel.Archive) error {
	r, err := zip.OpenReader(a.Path)
	if err != nil {
		return errors.Wrap(err, "opening sealed archive")
	}
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	r.Close()

	catalogEntries, err := w.gateway.ArchivedEntries(ctx, a.Path)
	if err != nil {
		return err
	}

	cross, err := w.crossCheck(ctx, a.Path, names, catalogEntries)
	if err != nil {
		return err
	}
	if len(cross) == 0 {
		return nil
	}

	remoteURL := path.Join(a.DestPath, filepath.Base(a.Path))

	f, err := fs.Open(a.Path)
	if err != nil {
		return errors.Wrap(err, "opening archive for upload")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "stat archive")
	}
	putErr := w.webdav.Put(ctx, remoteURL, f, stat.Size())
	f.Close()
	if putErr != nil {
		return errors.Wrap(putErr, "uploading archive")
	}

	info, err := w.webdav.Head(ctx, remoteURL)
	if err != nil {
		return errors.Wrap(err, "heading uploaded archive")
	}

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
		if err := w.gateway.Verify(ctx, rec.Pnfsid, a.Path, archiveURL); err != nil {
			return err
		}
	}
	return w.gateway.ForgetArchive(ctx, a.Path)
}

// crossCheck mirrors internal/verifier's symmetric-diff step exactly
// (spec.md §4.F step 2 / §4.H).
func (w *Writer) crossCheck(ctx context.Context, cPath string, entryNames []string, catalogEntries []catalogmodel.File) ([]catalogmodel.File, error) {
	inArchive := make(map[string]bool, len(entryNames))
	for _, n := range entryNames {
		inArchive[n] = true
	}

	var cross []catalogmodel.File
	inCatalog := make(map[string]bool, len(catalogEntries))
	for _, rec := range catalogEntries {
		inCatalog[rec.Pnfsid] = true
		if !inArchive[rec.Pnfsid] {
			if err := w.gateway.ResetToNew(ctx, rec.Pnfsid); err != nil {
				return nil, err
			}
			continue
		}
		cross = append(cross, rec)
	}

	for name := range inArchive {
		if !inCatalog[name] {
			if err := w.gateway.InsertFailure(ctx, cPath, name); err != nil {
				return nil, err
			}
		}
	}
	return cross, nil
}
