// Package container builds the sealed ZIP64 archives this system ships
// to the WebDAV door: one entry per reserved record, named by pnfsid,
// always stored uncompressed (there is no option to compress entries).
// The writer shape (buffer
// entries as they're reserved, stream each one through the archive
// writer exactly once, close and verify the central directory) is
// grounded on perkeep's blobpacked packer
// (pkg/blobserver/blobpacked/blobpacked.go's writeAZip), the one example
// in the retrieval pack that also builds a zip.Writer out of many small
// records rather than a handful of large files.
package container

import (
	"archive/zip"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
)

func init() {
	// Registering klauspost/compress's flate implementation replaces the
	// standard library's codec for zip.Deflate in this process. Seal
	// always writes entries with zip.Store and no group option selects
	// Deflate, so this registration only affects Deflate entries read or
	// written elsewhere.
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

// ErrContainerCreate is returned by New when the backing archive file
// could not be created.
var ErrContainerCreate = errors.New("container create failed")

// VerifyMode controls how Pack checks a sealed archive against its
// reserved content list.
type VerifyMode int

const (
	// VerifyFilelist compares entry counts only.
	VerifyFilelist VerifyMode = iota
	// VerifyChecksum is reserved; spec.md §4.D requires it to log a
	// warning and behave exactly like VerifyFilelist.
	VerifyChecksum
	// VerifyOff always passes.
	VerifyOff
)

// ParseVerifyMode maps a group config's verify string to a VerifyMode.
// Any value other than "filelist", "chksum" or "off" is rejected.
func ParseVerifyMode(raw string) (VerifyMode, error) {
	switch raw {
	case "filelist":
		return VerifyFilelist, nil
	case "chksum":
		return VerifyChecksum, nil
	case "off":
		return VerifyOff, nil
	default:
		return 0, errors.Errorf("invalid verify mode %q", raw)
	}
}

// Entry is one reserved slot in a container: a file record waiting to be
// fetched and packed.
type Entry struct {
	Pnfsid   string
	Filepath string
	Size     int64
	Ctime    int64
}

// Container accumulates reserved entries up to archiveSize bytes, then
// packs them into a sealed ZIP64 archive on disk.
type Container struct {
	path              string
	archiveSize       int64
	ctimeOldThreshold int64
	verifyMode        VerifyMode

	currentSize int64
	oldMode     bool
	entries     []Entry
}

// New allocates a fresh UUID v1-named archive file under dir (creating
// dir if it does not exist yet) and returns an empty Container bound to it.
func New(dir string, archiveSize, ctimeOldThreshold int64, verifyMode VerifyMode) (*Container, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, errors.Wrap(ErrContainerCreate, err.Error())
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(ErrContainerCreate, err.Error())
	}

	path := dir + "/" + id.String() + ".zip"
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.Wrap(ErrContainerCreate, err.Error())
	}
	if err := f.Close(); err != nil {
		_ = fs.RemoveIfExists(path)
		return nil, errors.Wrap(ErrContainerCreate, err.Error())
	}

	return &Container{
		path:              path,
		archiveSize:       archiveSize,
		ctimeOldThreshold: ctimeOldThreshold,
		verifyMode:        verifyMode,
	}, nil
}

// Path returns the container's backing file path.
func (c *Container) Path() string {
	return c.path
}

// Add reserves rec's slot in this container. The caller is responsible
// for the catalog-side Claim; Add only tracks local bookkeeping.
func (c *Container) Add(rec Entry) {
	c.entries = append(c.entries, rec)
	c.currentSize += rec.Size
	if rec.Ctime < c.ctimeOldThreshold {
		c.oldMode = true
	}
}

// IsFull reports whether the container has reached its target size.
func (c *Container) IsFull() bool {
	return c.currentSize >= c.archiveSize
}

// OldMode reports whether this container is sticky due to the
// old-files override (spec.md §4.D).
func (c *Container) OldMode() bool {
	return c.oldMode
}

// Entries returns the reserved content list, in reservation order — the
// only enumeration Pack ever iterates, never a directory listing.
func (c *Container) Entries() []Entry {
	return c.entries
}

// RemoveEntry drops pnfsid from the reserved content list without
// unreserving the container's size accounting, used when the replica
// fetcher exhausts its retries against a persistent checksum mismatch
// (spec.md §4.D's "container shrinks by one entry but may still seal"
// boundary case). The caller is responsible for marking the catalog
// record "download failed" separately.
func (c *Container) RemoveEntry(pnfsid string) {
	for i, e := range c.entries {
		if e.Pnfsid == pnfsid {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// ShouldDiscard reports whether this container is neither full nor in
// old-files mode, meaning the caller must Unclaim its entries and
// discard it rather than pack it.
func (c *Container) ShouldDiscard() bool {
	return !c.IsFull() && !c.oldMode
}

// Seal opens the archive for writing and appends every fetched file
// from fetchedPaths (keyed by pnfsid, matching Entries()) as
// arcname=pnfsid. It is the caller's job to have already fetched each
// entry into fetchedPaths via internal/fetch.
func (c *Container) Seal(fetchedPaths map[string]string) error {
	out, err := fs.Create(c.path)
	if err != nil {
		return errors.Wrap(err, "opening container for write")
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, e := range c.entries {
		srcPath, ok := fetchedPaths[e.Pnfsid]
		if !ok {
			_ = zw.Close()
			return errors.Errorf("no fetched file for entry %s", e.Pnfsid)
		}

		fh := &zip.FileHeader{Name: e.Pnfsid, Method: zip.Store}
		w, err := zw.CreateHeader(fh)
		if err != nil {
			_ = zw.Close()
			return errors.Wrap(err, "CreateHeader")
		}

		in, err := fs.Open(srcPath)
		if err != nil {
			_ = zw.Close()
			return errors.Wrap(err, "opening fetched entry")
		}
		_, err = io.Copy(w, in)
		_ = in.Close()
		if err != nil {
			_ = zw.Close()
			return errors.Wrap(err, "writing entry to archive")
		}
	}

	return errors.Wrap(zw.Close(), "closing archive")
}

// Verify checks the sealed archive's central directory against the
// reserved content list, per VerifyMode.
func (c *Container) Verify(verifyLog func(string)) error {
	switch c.verifyMode {
	case VerifyOff:
		return nil
	case VerifyChecksum:
		if verifyLog != nil {
			verifyLog("verify=chksum is not implemented; falling back to filelist verification")
		}
		fallthrough
	case VerifyFilelist:
		r, err := zip.OpenReader(c.path)
		if err != nil {
			return errors.Wrap(err, "opening sealed archive")
		}
		defer r.Close()

		if len(r.File) != len(c.entries) {
			return errors.Errorf("archive has %d entries, want %d", len(r.File), len(c.entries))
		}
		return nil
	default:
		return errors.Errorf("unknown verify mode %v", c.verifyMode)
	}
}

// Discard removes this container's backing file.
func (c *Container) Discard() error {
	return fs.RemoveIfExists(c.path)
}
