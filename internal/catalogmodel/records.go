package catalogmodel

// File is the `files` collection's record shape: the unit of work the
// group packer, verifier and fetcher all operate on.
type File struct {
	Pnfsid     string `bson:"pnfsid"`
	Path       string `bson:"path"`
	Parent     string `bson:"parent"`
	Size       int64  `bson:"size"`
	Ctime      int64  `bson:"ctime"`
	Store      string `bson:"store"`
	Group      string `bson:"group"`
	HSMType    string `bson:"hsm_type"`
	HSMName    string `bson:"hsm_name"`
	ReplicaURI string `bson:"replica_uri,omitempty"`
	DriverURL  string `bson:"driver_url,omitempty"`
	LocalPath  string `bson:"localpath,omitempty"`
	State      string `bson:"state"`
	Lock       string `bson:"lock,omitempty"`
	ArchiveURL string `bson:"archiveUrl,omitempty"`
}

// Archive is the `archives` collection's record shape: one row per sealed,
// not-yet-verified local container.
type Archive struct {
	Path     string `bson:"path"`
	DestPath string `bson:"dest_path"`
}

// StageStatus is a stage record's status field.
type StageStatus string

const (
	StageNew     StageStatus = "new"
	StageDone    StageStatus = "done"
	StageFailure StageStatus = "failure"
)

// Stage is the `stage` collection's record shape: one row per file the
// stager must make available on request.
type Stage struct {
	Pnfsid    string      `bson:"pnfsid"`
	Filepath  string      `bson:"filepath"`
	Locations []string    `bson:"locations"`
	DriverURL string      `bson:"driver_url"`
	Status    StageStatus `bson:"status"`
}

// Failure is a `failures` collection row: an archive entry with no
// matching catalog record.
type Failure struct {
	ArchivePath string `bson:"archivePath"`
	Pnfsid      string `bson:"pnfsid"`
}

// ArchiveFailure is an `archive_failure` collection row: duplicate remote
// archives whose contents disagree.
type ArchiveFailure struct {
	Pnfsid    string   `bson:"pnfsid"`
	Location  string   `bson:"location"`
	Files     []string `bson:"files"`
}
