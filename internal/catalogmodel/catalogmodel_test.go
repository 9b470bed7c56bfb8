package catalogmodel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStateRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		state State
		want  string
	}{
		{New(), "new"},
		{Added("/data/c1"), "added: /data/c1"},
		{Archived("/data/c1"), "archived: /data/c1"},
		{Verified("/data/c1"), "verified: /data/c1"},
		{DownloadFailed(), "download failed"},
		{Failed(), "failed"},
	} {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}

		parsed, err := ParseState(tc.want)
		if err != nil {
			t.Fatalf("ParseState(%q): %v", tc.want, err)
		}
		if diff := cmp.Diff(tc.state, parsed); diff != "" {
			t.Errorf("ParseState(%q) mismatch (-want +got):\n%s", tc.want, diff)
		}
	}
}

func TestParseStateRejectsGarbage(t *testing.T) {
	if _, err := ParseState("sideways"); err == nil {
		t.Fatal("expected an error for an unrecognized state")
	}
}

func TestArchiveURLRoundTrip(t *testing.T) {
	want := ArchiveURL{
		HSMType:         "osm",
		HSMName:         "desy",
		Store:           "some-store",
		Group:           "some-group",
		Pnfsid:          "0000A1",
		ContainerPnfsid: "0000C2",
	}

	raw := FormatArchiveURL(want)
	got, err := ParseArchiveURL(raw)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch for %q (-want +got):\n%s", raw, diff)
	}
}

func TestParseETag(t *testing.T) {
	id, err := ParseETag(`"0000C2_AnythingElse"`)
	if err != nil {
		t.Fatal(err)
	}
	if id != "0000C2" {
		t.Errorf("ParseETag = %q, want %q", id, "0000C2")
	}
}

func TestParseLocation(t *testing.T) {
	scheme, archivePnfsid, err := ParseLocation("osm:0000C2")
	if err != nil {
		t.Fatal(err)
	}
	if scheme != "osm" || archivePnfsid != "0000C2" {
		t.Errorf("ParseLocation = (%q, %q)", scheme, archivePnfsid)
	}
}
