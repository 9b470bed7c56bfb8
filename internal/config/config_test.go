package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[DEFAULT]
script_id = pack-a
log_level = INFO
mongo_url = mongodb://localhost:27017/
mongo_db = smallfiles
working_dir = %s
loop_delay = 5
mount_point = /pnfs/example
data_root = /data
webdav_door = https://door.example/path
driver_url = https://driver.example
macaroon = /etc/dcache/macaroon
keep_archive_time = 120
stage_wait_min = 1
stage_wait_max = 10

[groupA]
file_expression = .*\.dat$
s_group = sgroup
store_name = store1
archive_size = 2G
min_age = 300
max_age = 86400
verify = filelist
path_expression = ^/pnfs/example/groupA
archive_path = /archives/groupA
quota = 500
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	workingDir := filepath.Join(dir, "work")
	path := filepath.Join(dir, "container.conf")
	content := []byte(fmt.Sprintf(sampleConfig, workingDir))
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesDefaultsAndGroups(t *testing.T) {
	path := writeConfig(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Common.ScriptID != "pack-a" {
		t.Errorf("ScriptID = %q", cfg.Common.ScriptID)
	}
	if cfg.Common.LoopDelay != 5 {
		t.Errorf("LoopDelay = %d", cfg.Common.LoopDelay)
	}
	if len(cfg.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(cfg.Groups))
	}

	g := cfg.Groups[0]
	if g.Name != "groupA" {
		t.Errorf("Name = %q", g.Name)
	}
	if g.ArchiveSize != 2_000_000_000 {
		t.Errorf("ArchiveSize = %d, want 2000000000", g.ArchiveSize)
	}
	if g.MinAge != 300 || g.MaxAge != 86400 {
		t.Errorf("MinAge/MaxAge = %d/%d", g.MinAge, g.MaxAge)
	}
	if !g.PathExpression.MatchString("/pnfs/example/groupA/sub/file") {
		t.Error("path_expression should match a groupA path")
	}
	if g.Quota != 500 {
		t.Errorf("Quota = %d, want 500", g.Quota)
	}
	if cfg.Common.WebDAVDoorURL != "https://door.example/path" {
		t.Errorf("WebDAVDoorURL = %q", cfg.Common.WebDAVDoorURL)
	}
	if cfg.Common.KeepArchiveTime != 120 {
		t.Errorf("KeepArchiveTime = %d, want 120", cfg.Common.KeepArchiveTime)
	}
}

func TestLoadDefaultsQuotaToDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "container.conf")
	content := "[DEFAULT]\nmongo_url = mongodb://x/\nmongo_db = db\nworking_dir = " + dir + "\nloop_delay = 5\nmount_point = /m\ndata_root = /d\n\n" +
		"[g]\nfile_expression = .*\ns_group = s\nstore_name = st\narchive_size = 1M\nmin_age = 1\nmax_age = 1\nverify = off\npath_expression = ^/\narchive_path = /a\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Groups[0].Quota != -1 {
		t.Errorf("Quota = %d, want -1 (disabled)", cfg.Groups[0].Quota)
	}
}

func TestLoadRejectsInvalidScriptID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "container.conf")
	content := "[DEFAULT]\nscript_id = bad/id\nmongo_url = mongodb://x/\nmongo_db = db\nworking_dir = " + dir + "\nloop_delay = 5\nmount_point = /m\ndata_root = /d\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a script_id containing '/'")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.conf"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
