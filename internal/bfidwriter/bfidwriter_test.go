package bfidwriter

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dcache-sapphire/smallfiles-packer/internal/catalogmodel"
	"github.com/dcache-sapphire/smallfiles-packer/internal/webdav"
)

type fakeGateway struct {
	archives   []catalogmodel.Archive
	archived   map[string][]catalogmodel.File
	resetToNew []string
	verified   map[string]string
	failures   []string
	forgotten  []string
}

func (g *fakeGateway) ListArchives(ctx context.Context) ([]catalogmodel.Archive, error) {
	return g.archives, nil
}

func (g *fakeGateway) ArchivedEntries(ctx context.Context, cPath string) ([]catalogmodel.File, error) {
	return g.archived[cPath], nil
}

func (g *fakeGateway) ResetToNew(ctx context.Context, pnfsid string) error {
	g.resetToNew = append(g.resetToNew, pnfsid)
	return nil
}

func (g *fakeGateway) Verify(ctx context.Context, pnfsid, cPath, archiveURL string) error {
	if g.verified == nil {
		g.verified = map[string]string{}
	}
	g.verified[pnfsid] = archiveURL
	return nil
}

func (g *fakeGateway) InsertFailure(ctx context.Context, archivePath, pnfsid string) error {
	g.failures = append(g.failures, pnfsid)
	return nil
}

func (g *fakeGateway) ForgetArchive(ctx context.Context, path string) error {
	g.forgotten = append(g.forgotten, path)
	return nil
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRunUploadsAndPromotesCrossCheckedEntries(t *testing.T) {
	dir := t.TempDir()
	containerPath := filepath.Join(dir, "abc.zip")
	writeZip(t, containerPath, map[string]string{"file1": "hello", "ghost": "orphan"})

	var sawPut, sawHead bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			sawPut = true
			w.WriteHeader(http.StatusCreated)
		case http.MethodHead:
			sawHead = true
			w.Header().Set("ETag", `"CONTAINERID_rest"`)
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	gw := &fakeGateway{
		archives: []catalogmodel.Archive{{Path: containerPath, DestPath: "/dest"}},
		archived: map[string][]catalogmodel.File{
			containerPath: {
				{Pnfsid: "file1", HSMType: "osm", HSMName: "store1", Store: "s1", Group: "g1"},
				{Pnfsid: "missing-from-archive"},
			},
		},
	}

	w := New(gw, webdav.New(srv.URL, "tok", nil))
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !sawPut || !sawHead {
		t.Errorf("expected both PUT and HEAD against the door, got put=%v head=%v", sawPut, sawHead)
	}
	if gw.verified["file1"] == "" {
		t.Error("expected file1 to be re-stamped with a fresh archiveUrl")
	}
	if len(gw.resetToNew) != 1 || gw.resetToNew[0] != "missing-from-archive" {
		t.Errorf("expected missing-from-archive reset to new, got %v", gw.resetToNew)
	}
	if len(gw.failures) != 1 || gw.failures[0] != "ghost" {
		t.Errorf("expected ghost recorded as an orphaned archive entry, got %v", gw.failures)
	}
	if len(gw.forgotten) != 1 || gw.forgotten[0] != containerPath {
		t.Errorf("expected the archive record forgotten after re-stamping, got %v", gw.forgotten)
	}
}

func TestRunSkipsArchiveWithNoCrossCheckedEntries(t *testing.T) {
	dir := t.TempDir()
	containerPath := filepath.Join(dir, "abc.zip")
	writeZip(t, containerPath, map[string]string{"ghost": "orphan"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the webdav door when nothing cross-checks")
	}))
	defer srv.Close()

	gw := &fakeGateway{
		archives: []catalogmodel.Archive{{Path: containerPath, DestPath: "/dest"}},
		archived: map[string][]catalogmodel.File{
			containerPath: {{Pnfsid: "missing-from-archive"}},
		},
	}

	w := New(gw, webdav.New(srv.URL, "tok", nil))
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(gw.resetToNew) != 1 || gw.resetToNew[0] != "missing-from-archive" {
		t.Errorf("expected missing-from-archive reset to new, got %v", gw.resetToNew)
	}
	if len(gw.failures) != 1 || gw.failures[0] != "ghost" {
		t.Errorf("expected ghost recorded as an orphaned archive entry, got %v", gw.failures)
	}
	if len(gw.forgotten) != 0 {
		t.Errorf("expected the archive record left alone when nothing was promoted, got %v", gw.forgotten)
	}
}

func TestRunContinuesPastOneArchiveFailure(t *testing.T) {
	dir := t.TempDir()
	goodPath := filepath.Join(dir, "good.zip")
	writeZip(t, goodPath, map[string]string{"file1": "hello"})
	badPath := filepath.Join(dir, "missing.zip")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("ETag", `"CONTAINERID_rest"`)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := &fakeGateway{
		archives: []catalogmodel.Archive{
			{Path: badPath, DestPath: "/dest"},
			{Path: goodPath, DestPath: "/dest"},
		},
		archived: map[string][]catalogmodel.File{
			goodPath: {{Pnfsid: "file1"}},
		},
	}

	w := New(gw, webdav.New(srv.URL, "tok", nil))
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if gw.verified["file1"] == "" {
		t.Error("expected the good archive to still be processed despite the bad one failing to open")
	}
}
