// Package config loads the INI configuration file shared by the packer,
// verifier and stager binaries: a mandatory [DEFAULT] section plus one
// named section per packing group. The layout and defaults mirror
// original_source/packer/src/pack-files.py's get_config exactly, since
// operators already have config files in this shape.
package config

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ini/ini"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
)

// Defaults mirror RawConfigParser(defaults={...}) in the original script.
const (
	defaultScriptID    = "pack"
	defaultMongoURL    = "mongodb://localhost:27017/"
	defaultMongoDB     = "smallfiles"
	defaultLoopDelay   = 5
	defaultLogLevel    = "ERROR"
	defaultWorkingDir  = "/sapphire"
)

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Common holds the [DEFAULT] section, shared by every role.
type Common struct {
	ScriptID        string
	LogLevel        string
	MongoURL        string
	MongoDB         string
	WorkingDir      string
	LoopDelay       int
	MountPoint      string
	DataRoot        string
	FrontendURL     string
	WebDAVDoorURL   string
	DriverURL       string
	Macaroon        string
	KeepArchiveTime int
	StageWaitMin    int
	StageWaitMax    int
}

// Group is one packing-group section: a selection rule plus a container
// policy, matching GroupPackager's constructor arguments in the original
// script.
type Group struct {
	Name           string
	FileExpression string
	StoreGroup     string
	StoreName      string
	ArchiveSize    int64
	MinAge         int
	MaxAge         int
	Verify         string
	PathExpression *regexp.Regexp
	ArchivePath    string
	Quota          int
}

// Config is the parsed, validated configuration file.
type Config struct {
	Common Common
	Groups []Group
}

// Load reads and validates path, mirroring get_config's checks: [DEFAULT]
// options that are absent take the defaults above, log_level must be a
// known level, script_id must not contain path/shell metacharacters,
// mongo_db must not contain '.', loop_delay must parse as an int, and the
// working directory is created if it doesn't exist yet.
func Load(path string) (*Config, error) {
	if _, err := fs.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "config file %q not found", path)
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{}, path)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file %q", path)
	}

	def := cfg.Section(ini.DefaultSection)
	common := Common{
		ScriptID:        def.Key("script_id").MustString(defaultScriptID),
		LogLevel:        def.Key("log_level").MustString(defaultLogLevel),
		MongoURL:        def.Key("mongo_url").MustString(defaultMongoURL),
		MongoDB:         def.Key("mongo_db").MustString(defaultMongoDB),
		WorkingDir:      def.Key("working_dir").MustString(defaultWorkingDir),
		LoopDelay:       def.Key("loop_delay").MustInt(defaultLoopDelay),
		MountPoint:      def.Key("mount_point").String(),
		DataRoot:        def.Key("data_root").String(),
		FrontendURL:     def.Key("frontend").String(),
		WebDAVDoorURL:   def.Key("webdav_door").String(),
		DriverURL:       def.Key("driver_url").String(),
		Macaroon:        def.Key("macaroon").String(),
		KeepArchiveTime: def.Key("keep_archive_time").MustInt(60),
		StageWaitMin:    def.Key("stage_wait_min").MustInt(1),
		StageWaitMax:    def.Key("stage_wait_max").MustInt(5),
	}

	if err := validateCommon(common); err != nil {
		return nil, err
	}
	if def.HasKey("loop_delay") {
		if _, err := def.Key("loop_delay").Int(); err != nil {
			return nil, errors.Wrapf(err, "loop_delay must be an integer")
		}
	}

	if err := fs.MkdirAll(common.WorkingDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "working directory %q could not be created", common.WorkingDir)
	}

	var groups []Group
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		g, err := parseGroup(sec)
		if err != nil {
			// A malformed group fails the whole load; no group is
			// skipped.
			return nil, err
		}
		groups = append(groups, g)
	}

	return &Config{Common: common, Groups: groups}, nil
}

func validateCommon(c Common) error {
	if !validLogLevels[strings.ToUpper(c.LogLevel)] {
		return errors.Errorf("invalid log_level %q, must be one of DEBUG|INFO|WARNING|ERROR|CRITICAL", c.LogLevel)
	}
	if strings.ContainsAny(c.ScriptID, "/$\x00") {
		return errors.New("script_id contains invalid chars like /, $ or \\0")
	}
	if strings.Contains(c.MongoDB, ".") {
		return errors.New("mongo_db contains an invalid character '.'")
	}
	return nil
}

func parseGroup(sec *ini.Section) (Group, error) {
	name := sec.Name()

	archiveSizeRaw := sec.Key("archive_size").String()
	archiveSize, err := parseSize(archiveSizeRaw)
	if err != nil {
		return Group{}, errors.Wrapf(err, "section %s: invalid archive_size %q", name, archiveSizeRaw)
	}

	minAge, err := sec.Key("min_age").Int()
	if err != nil {
		return Group{}, errors.Wrapf(err, "section %s: min_age must be numeric", name)
	}
	maxAge, err := sec.Key("max_age").Int()
	if err != nil {
		return Group{}, errors.Wrapf(err, "section %s: max_age must be numeric", name)
	}

	pathExpr := sec.Key("path_expression").String()
	re, err := regexp.Compile(pathExpr)
	if err != nil {
		return Group{}, errors.Wrapf(err, "section %s: invalid path_expression %q", name, pathExpr)
	}

	g := Group{
		Name:           name,
		FileExpression: sec.Key("file_expression").String(),
		StoreGroup:     sec.Key("s_group").String(),
		StoreName:      sec.Key("store_name").String(),
		ArchiveSize:    archiveSize,
		MinAge:         minAge,
		MaxAge:         maxAge,
		Verify:         sec.Key("verify").String(),
		PathExpression: re,
		ArchivePath:    sec.Key("archive_path").String(),
		Quota:          sec.Key("quota").MustInt(-1),
	}

	for _, required := range []string{g.FileExpression, g.StoreGroup, g.StoreName, g.ArchivePath} {
		if required == "" {
			return Group{}, errors.Errorf("section %s: missing a required option", name)
		}
	}

	return g, nil
}

// parseSize parses an archive_size value with an optional G/M/K suffix,
// matching the original script's string-replace convention
// (G -> 10^9, M -> 10^6, K -> 10^3, applied literally, not as binary units).
func parseSize(raw string) (int64, error) {
	r := strings.NewReplacer("G", "000000000", "M", "000000", "K", "000")
	return strconv.ParseInt(r.Replace(raw), 10, 64)
}
