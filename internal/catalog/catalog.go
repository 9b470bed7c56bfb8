// Package catalog is the typed gateway onto the MongoDB collections that
// hold every piece of shared state in this system: files, archives, stage
// requests and failure records. Every other component talks to Mongo
// exclusively through this package — nobody else imports the driver or
// builds a bson.M by hand, which is what lets Predicate (see predicate.go)
// stay a neutral pattern+anchor pair everywhere except here.
package catalog

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

// ErrCatalogUnavailable is returned (wrapped as errors.Transient) whenever
// a Mongo operation fails because the server or network is unreachable;
// the calling control loop is expected to sleep and retry on its next
// tick, never to treat this as fatal.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

const minBatchSize = 512

// Gateway is a handle onto one catalog database.
type Gateway struct {
	client *mongo.Client
	db     *mongo.Database

	files          *mongo.Collection
	archives       *mongo.Collection
	stage          *mongo.Collection
	failures       *mongo.Collection
	archiveFailure *mongo.Collection
}

// Open connects to uri and returns a Gateway bound to database dbName.
func Open(ctx context.Context, uri, dbName string) (*Gateway, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "connecting to catalog")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "pinging catalog")
	}

	db := client.Database(dbName)
	return &Gateway{
		client:         client,
		db:             db,
		files:          db.Collection("files"),
		archives:       db.Collection("archives"),
		stage:          db.Collection("stage"),
		failures:       db.Collection("failures"),
		archiveFailure: db.Collection("archive_failure"),
	}, nil
}

// Close disconnects from the catalog.
func (g *Gateway) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Transient(errors.Wrap(ErrCatalogUnavailable, err.Error()))
}

// Filter selects the files a group packer considers for a given tick.
type Filter struct {
	PathPat  Predicate
	GroupPat Predicate
	StorePat Predicate
	CtimeMax int64
}

func (f Filter) bson() bson.M {
	m := bson.M{"state": "new"}
	if !f.PathPat.IsZero() {
		m["path"] = f.PathPat.bson()
	}
	if !f.GroupPat.IsZero() {
		m["group"] = f.GroupPat.bson()
	}
	if !f.StorePat.IsZero() {
		m["store"] = f.StorePat.bson()
	}
	if f.CtimeMax > 0 {
		m["ctime"] = bson.M{"$lt": f.CtimeMax}
	}
	return m
}

// FileCursor iterates ListNewFiles results, ordered by ctime ascending.
type FileCursor struct {
	cur *mongo.Cursor
}

// Next advances the cursor and decodes the next record into f.
func (c *FileCursor) Next(ctx context.Context) (*catalogmodel.File, bool, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, false, errors.Wrap(wrapUnavailable(err), "cursor error")
		}
		return nil, false, nil
	}
	var f catalogmodel.File
	if err := c.cur.Decode(&f); err != nil {
		return nil, false, errors.Wrap(err, "decoding file record")
	}
	return &f, true, nil
}

// Close releases the underlying cursor.
func (c *FileCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// ListNewFiles returns a cursor over state=new files matching filter,
// ordered by ctime ascending. The cursor is opened with no server-side
// idle timeout and a large batch size, since a group-packer walk can run
// far longer than Mongo's default cursor timeout — both required by
// spec.md §4.B and §9.
func (g *Gateway) ListNewFiles(ctx context.Context, filter Filter) (*FileCursor, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "ctime", Value: 1}}).
		SetNoCursorTimeout(true).
		SetBatchSize(minBatchSize).
		SetAllowDiskUse(true)

	cur, err := g.files.Find(ctx, filter.bson(), opts)
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "ListNewFiles")
	}
	return &FileCursor{cur: cur}, nil
}

// CountNewFiles returns the number of files matching filter.
func (g *Gateway) CountNewFiles(ctx context.Context, filter Filter) (int64, error) {
	n, err := g.files.CountDocuments(ctx, filter.bson())
	if err != nil {
		return 0, errors.Wrap(wrapUnavailable(err), "CountNewFiles")
	}
	return n, nil
}

// DistinctParents returns the distinct `parent` values among files whose
// parent matches pathPat.
func (g *Gateway) DistinctParents(ctx context.Context, pathPat Predicate) ([]string, error) {
	filter := bson.M{}
	if !pathPat.IsZero() {
		filter["parent"] = pathPat.bson()
	}

	raw, err := g.files.Distinct(ctx, "parent", filter)
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "DistinctParents")
	}

	parents := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			parents = append(parents, s)
		}
	}
	return parents, nil
}

// Claim atomically sets state=added:cPath and lock=wid on pnfsid.
func (g *Gateway) Claim(ctx context.Context, pnfsid, cPath, wid string) error {
	state := catalogmodel.Added(cPath).String()
	_, err := g.files.UpdateOne(ctx,
		bson.M{"pnfsid": pnfsid},
		bson.M{"$set": bson.M{"state": state, "lock": wid}},
	)
	return errors.Wrap(wrapUnavailable(err), "Claim")
}

// Unclaim resets every file with state=added:cPath back to new, clearing
// its lock.
func (g *Gateway) Unclaim(ctx context.Context, cPath string) error {
	state := catalogmodel.Added(cPath).String()
	_, err := g.files.UpdateMany(ctx,
		bson.M{"state": state},
		bson.M{"$set": bson.M{"state": catalogmodel.New().String()}, "$unset": bson.M{"lock": ""}},
	)
	return errors.Wrap(wrapUnavailable(err), "Unclaim")
}

// Promote moves every file with state=added:cPath to archived:cPath.
func (g *Gateway) Promote(ctx context.Context, cPath string) error {
	from := catalogmodel.Added(cPath).String()
	to := catalogmodel.Archived(cPath).String()
	_, err := g.files.UpdateMany(ctx,
		bson.M{"state": from},
		bson.M{"$set": bson.M{"state": to}},
	)
	return errors.Wrap(wrapUnavailable(err), "Promote")
}

// Verify sets pnfsid's state to verified:cPath and records its archiveUrl.
func (g *Gateway) Verify(ctx context.Context, pnfsid, cPath, archiveURL string) error {
	state := catalogmodel.Verified(cPath).String()
	_, err := g.files.UpdateOne(ctx,
		bson.M{"pnfsid": pnfsid},
		bson.M{"$set": bson.M{"state": state, "archiveUrl": archiveURL}, "$unset": bson.M{"lock": ""}},
	)
	return errors.Wrap(wrapUnavailable(err), "Verify")
}

// ResetToNew resets a single file record back to state=new, clearing its
// lock — used on recoverable per-record failures (e.g. checksum mismatch
// on fetch, or a verifier rollback).
func (g *Gateway) ResetToNew(ctx context.Context, pnfsid string) error {
	_, err := g.files.UpdateOne(ctx,
		bson.M{"pnfsid": pnfsid},
		bson.M{"$set": bson.M{"state": catalogmodel.New().String()}, "$unset": bson.M{"lock": ""}},
	)
	return errors.Wrap(wrapUnavailable(err), "ResetToNew")
}

// MarkDownloadFailed sets pnfsid's state to "download failed", removing it
// from the working set until an operator intervenes.
func (g *Gateway) MarkDownloadFailed(ctx context.Context, pnfsid string) error {
	_, err := g.files.UpdateOne(ctx,
		bson.M{"pnfsid": pnfsid},
		bson.M{"$set": bson.M{"state": catalogmodel.DownloadFailed().String()}, "$unset": bson.M{"lock": ""}},
	)
	return errors.Wrap(wrapUnavailable(err), "MarkDownloadFailed")
}

// RegisterArchive inserts an archive record for a freshly sealed
// container.
func (g *Gateway) RegisterArchive(ctx context.Context, path, destPath string) error {
	_, err := g.archives.InsertOne(ctx, catalogmodel.Archive{Path: path, DestPath: destPath})
	return errors.Wrap(wrapUnavailable(err), "RegisterArchive")
}

// ListArchives returns every sealed-but-not-yet-verified archive record,
// the verifier's per-tick work list.
func (g *Gateway) ListArchives(ctx context.Context) ([]catalogmodel.Archive, error) {
	cur, err := g.archives.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "ListArchives")
	}
	defer cur.Close(ctx)

	var rows []catalogmodel.Archive
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding archive records")
	}
	return rows, nil
}

// ForgetArchive deletes the archive record for path.
func (g *Gateway) ForgetArchive(ctx context.Context, path string) error {
	_, err := g.archives.DeleteOne(ctx, bson.M{"path": path})
	return errors.Wrap(wrapUnavailable(err), "ForgetArchive")
}

// ArchivedEntries returns every file record whose state is
// archived:cPath, the verifier's cross-check set. Full records (not just
// pnfsids) are returned because the verifier needs Store/Group/HSMType/
// HSMName to build each entry's BFID archive URL on promotion.
func (g *Gateway) ArchivedEntries(ctx context.Context, cPath string) ([]catalogmodel.File, error) {
	state := catalogmodel.Archived(cPath).String()
	cur, err := g.files.Find(ctx, bson.M{"state": state},
		options.Find().SetNoCursorTimeout(true).SetBatchSize(minBatchSize).SetAllowDiskUse(true))
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "ArchivedEntries")
	}
	defer cur.Close(ctx)

	var rows []catalogmodel.File
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding archived entries")
	}
	return rows, nil
}

// Sanitize implements the crash-recovery invariant I5: every file record
// locked by wid is reset to new, and every added:* record with no owning
// archive record is also reset to new.
func (g *Gateway) Sanitize(ctx context.Context, wid string) error {
	if _, err := g.files.UpdateMany(ctx,
		bson.M{"lock": wid},
		bson.M{"$set": bson.M{"state": catalogmodel.New().String()}, "$unset": bson.M{"lock": ""}},
	); err != nil {
		return errors.Wrap(wrapUnavailable(err), "Sanitize: reset locked records")
	}

	cur, err := g.files.Find(ctx, bson.M{"state": bson.M{"$regex": "^added:"}})
	if err != nil {
		return errors.Wrap(wrapUnavailable(err), "Sanitize: scan added records")
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			Pnfsid string `bson:"pnfsid"`
			State  string `bson:"state"`
		}
		if err := cur.Decode(&row); err != nil {
			return errors.Wrap(err, "Sanitize: decode")
		}
		st, err := catalogmodel.ParseState(row.State)
		if err != nil {
			continue
		}
		ok, err := g.hasArchive(ctx, st.Container)
		if err != nil {
			return err
		}
		if !ok {
			if err := g.ResetToNew(ctx, row.Pnfsid); err != nil {
				return err
			}
		}
	}
	return errors.Wrap(wrapUnavailable(cur.Err()), "Sanitize: cursor")
}

func (g *Gateway) hasArchive(ctx context.Context, path string) (bool, error) {
	n, err := g.archives.CountDocuments(ctx, bson.M{"path": path}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(wrapUnavailable(err), "hasArchive")
	}
	return n > 0, nil
}

// StageNew returns every stage record with status=new.
func (g *Gateway) StageNew(ctx context.Context) ([]catalogmodel.Stage, error) {
	cur, err := g.stage.Find(ctx, bson.M{"status": catalogmodel.StageNew},
		options.Find().SetNoCursorTimeout(true).SetBatchSize(minBatchSize).SetAllowDiskUse(true))
	if err != nil {
		return nil, errors.Wrap(wrapUnavailable(err), "StageNew")
	}
	defer cur.Close(ctx)

	var rows []catalogmodel.Stage
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decoding stage records")
	}
	return rows, nil
}

// StageUpdate sets a stage record's status.
func (g *Gateway) StageUpdate(ctx context.Context, pnfsid string, status catalogmodel.StageStatus) error {
	_, err := g.stage.UpdateOne(ctx,
		bson.M{"pnfsid": pnfsid},
		bson.M{"$set": bson.M{"status": status}},
	)
	return errors.Wrap(wrapUnavailable(err), "StageUpdate")
}

// InsertFailure records an archive entry present in a sealed container but
// missing from the catalog.
func (g *Gateway) InsertFailure(ctx context.Context, archivePath, pnfsid string) error {
	_, err := g.failures.InsertOne(ctx, catalogmodel.Failure{ArchivePath: archivePath, Pnfsid: pnfsid})
	return errors.Wrap(wrapUnavailable(err), "InsertFailure")
}

// InsertArchiveFailure records a duplicate remote archive whose contents
// disagree with the local one.
func (g *Gateway) InsertArchiveFailure(ctx context.Context, pnfsid, location string, files []string) error {
	_, err := g.archiveFailure.InsertOne(ctx, catalogmodel.ArchiveFailure{
		Pnfsid: pnfsid, Location: location, Files: files,
	})
	return errors.Wrap(wrapUnavailable(err), "InsertArchiveFailure")
}
