// Package packer runs one group's per-tick packing algorithm: walk the
// catalog's new files for that group, accumulate them into containers,
// fetch and seal each container that's ready, then hand it off for
// verification. The shape — a single-threaded walk that accumulates
// work into a bounded unit and flushes it when full or when the walk
// ends — is the same one the teacher's internal/archiver scan loop
// uses for its own bounded unit (a pack blob); the concrete types here
// (catalog cursors, ZIP64 containers) have no direct analogue in
// archiver's tree/blob model, so this package is new code following
// that shape rather than adapted archiver source.
package packer

import (
	"context"
	"path/filepath"

	"github.com/dcache-sapphire/smallfiles-packer/internal/catalog"
	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/config"
	"github.com/dcache-sapphire/smallfiles-packer/internal/container"
	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fetch"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
)

// Fetcher is the subset of internal/fetch.Fetcher the packer needs,
// narrowed to an interface so tests can substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, rec fetch.Record, destPath string) error
}

// FileCursor is the subset of internal/catalog.FileCursor the packer
// walks; narrowed to an interface so tests can substitute a fake cursor
// instead of driving a real Mongo collection.
type FileCursor interface {
	Next(ctx context.Context) (*catalogmodel.File, bool, error)
	Close(ctx context.Context) error
}

// Gateway is the subset of internal/catalog.Gateway the packer needs.
type Gateway interface {
	DistinctParents(ctx context.Context, pathPat catalog.Predicate) ([]string, error)
	ListNewFiles(ctx context.Context, filter catalog.Filter) (FileCursor, error)
	Claim(ctx context.Context, pnfsid, cPath, wid string) error
	Unclaim(ctx context.Context, cPath string) error
	RegisterArchive(ctx context.Context, path, destPath string) error
	Promote(ctx context.Context, cPath string) error
	MarkDownloadFailed(ctx context.Context, pnfsid string) error
}

// gatewayAdapter narrows a *catalog.Gateway to the Gateway interface,
// converting its concrete *catalog.FileCursor to the FileCursor
// interface at the call boundary.
type gatewayAdapter struct {
	g *catalog.Gateway
}

// WrapGateway adapts a live catalog.Gateway for use by a Packer.
func WrapGateway(g *catalog.Gateway) Gateway {
	return &gatewayAdapter{g: g}
}

func (a *gatewayAdapter) DistinctParents(ctx context.Context, pathPat catalog.Predicate) ([]string, error) {
	return a.g.DistinctParents(ctx, pathPat)
}

func (a *gatewayAdapter) ListNewFiles(ctx context.Context, filter catalog.Filter) (FileCursor, error) {
	return a.g.ListNewFiles(ctx, filter)
}

func (a *gatewayAdapter) Claim(ctx context.Context, pnfsid, cPath, wid string) error {
	return a.g.Claim(ctx, pnfsid, cPath, wid)
}

func (a *gatewayAdapter) Unclaim(ctx context.Context, cPath string) error {
	return a.g.Unclaim(ctx, cPath)
}

func (a *gatewayAdapter) RegisterArchive(ctx context.Context, path, destPath string) error {
	return a.g.RegisterArchive(ctx, path, destPath)
}

func (a *gatewayAdapter) Promote(ctx context.Context, cPath string) error {
	return a.g.Promote(ctx, cPath)
}

func (a *gatewayAdapter) MarkDownloadFailed(ctx context.Context, pnfsid string) error {
	return a.g.MarkDownloadFailed(ctx, pnfsid)
}

// Packer runs one group's tick.
type Packer struct {
	group    config.Group
	gateway  Gateway
	fetcher  Fetcher
	scratch  string
	workDir  string
	workerID string
	nowUnix  func() int64
}

// New builds a Packer for group, rooted at workDir (conventionally
// config.Common.WorkingDir), tagging every claim with workerID
// (config.Common.ScriptID).
func New(group config.Group, gateway Gateway, fetcher Fetcher, workDir, workerID string, nowUnix func() int64) *Packer {
	return &Packer{
		group:    group,
		gateway:  gateway,
		fetcher:  fetcher,
		scratch:  filepath.Join(workDir, "scratch"),
		workDir:  filepath.Join(workDir, "container"),
		workerID: workerID,
		nowUnix:  nowUnix,
	}
}

// Tick runs one pass of the group's selection, accumulation and pack
// algorithm, per spec.md §4.E. ctx cancellation is honored at the
// cooperative suspension points before each container's Pack step.
func (p *Packer) Tick(ctx context.Context) error {
	parents, err := p.gateway.DistinctParents(ctx, catalog.MatchAnchored(p.group.PathExpression.String()))
	if err != nil {
		return err
	}

	var toPack []*container.Container
	ctimeMin := p.nowUnix() - int64(p.group.MinAge)*60
	oldThreshold := p.nowUnix() - int64(p.group.MaxAge)*60

	for _, parent := range parents {
		if ctx.Err() != nil {
			break
		}
		queued, err := p.walkParent(ctx, parent, ctimeMin, oldThreshold)
		if err != nil {
			return err
		}
		toPack = append(toPack, queued...)
	}

	for _, c := range toPack {
		if ctx.Err() != nil {
			if err := p.abandon(ctx, c); err != nil {
				debug.Log("packer: abandon on shutdown failed: %v", err)
			}
			continue
		}
		if err := p.pack(ctx, c); err != nil {
			debug.Log("packer: pack failed for %s: %v", c.Path(), err)
		}
	}
	return nil
}

func (p *Packer) walkParent(ctx context.Context, parent string, ctimeMin, oldThreshold int64) ([]*container.Container, error) {
	var toPack []*container.Container
	var current *container.Container

	filter := catalog.Filter{
		PathPat:  catalog.MatchAnchored(parent),
		GroupPat: catalog.Match(p.group.StoreGroup),
		StorePat: catalog.Match(p.group.StoreName),
		CtimeMax: ctimeMin,
	}

	cur, err := p.gateway.ListNewFiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	verifyMode, err := container.ParseVerifyMode(p.group.Verify)
	if err != nil {
		return nil, err
	}

	for {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		if current == nil {
			full, err := p.quotaExceeded()
			if err != nil {
				return nil, err
			}
			if full {
				break
			}
			current, err = container.New(p.workDir, p.group.ArchiveSize, oldThreshold, verifyMode)
			if err != nil {
				return nil, err
			}
		}

		if err := p.gateway.Claim(ctx, rec.Pnfsid, current.Path(), p.workerID); err != nil {
			return nil, err
		}
		current.Add(container.Entry{
			Pnfsid:   rec.Pnfsid,
			Filepath: rec.Path,
			Size:     rec.Size,
			Ctime:    rec.Ctime,
		})

		if current.IsFull() {
			toPack = append(toPack, current)
			current = nil
		}
	}

	if current != nil {
		toPack = append(toPack, current)
	}
	return toPack, nil
}

func (p *Packer) quotaExceeded() (bool, error) {
	if p.group.Quota < 0 {
		return false, nil
	}
	names, err := fs.Readdirnames(p.workDir, -1)
	if err != nil {
		if fs.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "counting container directory")
	}
	return len(names) >= p.group.Quota, nil
}

// pack implements container.Pack(): discard a non-full, non-old
// container (unclaiming its entries), otherwise fetch every entry into
// scratch, seal, verify, and register the result with the catalog.
func (p *Packer) pack(ctx context.Context, c *container.Container) error {
	if c.ShouldDiscard() {
		if err := p.gateway.Unclaim(ctx, c.Path()); err != nil {
			return err
		}
		return c.Discard()
	}

	scratchDir := filepath.Join(p.scratch, filepath.Base(c.Path()))
	if err := fs.MkdirAll(scratchDir, 0700); err != nil {
		return err
	}
	defer fs.RemoveAll(scratchDir)

	fetched := map[string]string{}
	for _, e := range c.Entries() {
		if ctx.Err() != nil {
			return p.abandon(ctx, c)
		}
		dest := filepath.Join(scratchDir, e.Pnfsid)
		if err := p.fetcher.Fetch(ctx, fetch.Record{Pnfsid: e.Pnfsid, Path: e.Filepath}, dest); err != nil {
			if !errors.IsIntegrity(err) {
				return p.abandon(ctx, c)
			}
			// A persistent checksum mismatch drops just this entry per
			// spec.md §4.D: the record leaves the working set, the
			// container shrinks by one and may still seal.
			debug.Log("packer: %s: persistent checksum mismatch, marking download failed", e.Pnfsid)
			if markErr := p.gateway.MarkDownloadFailed(ctx, e.Pnfsid); markErr != nil {
				return markErr
			}
			c.RemoveEntry(e.Pnfsid)
			continue
		}
		fetched[e.Pnfsid] = dest
	}

	if err := c.Seal(fetched); err != nil {
		return p.abandon(ctx, c)
	}
	if err := c.Verify(func(msg string) { debug.Log("packer: %s", msg) }); err != nil {
		return p.abandon(ctx, c)
	}

	if err := p.gateway.RegisterArchive(ctx, c.Path(), p.group.ArchivePath); err != nil {
		return err
	}
	return p.gateway.Promote(ctx, c.Path())
}

func (p *Packer) abandon(ctx context.Context, c *container.Container) error {
	if err := p.gateway.Unclaim(ctx, c.Path()); err != nil {
		return err
	}
	return errors.Wrap(c.Discard(), "discarding abandoned container")
}
