package catalogmodel

import (
	"net/url"
	"strings"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

// ArchiveURL is the parsed form of a BFID archive URL:
//
//	hsm_type://hsm_name/?store=<store>&group=<group>&bfid=<pnfsid>:<containerPnfsid>
//
// net/url is the right tool here: this is a small, literal query-string
// composition/parse, and no pack dependency models HSM BFID URLs more
// directly than the standard library already does.
type ArchiveURL struct {
	HSMType         string
	HSMName         string
	Store           string
	Group           string
	Pnfsid          string
	ContainerPnfsid string
}

// FormatArchiveURL renders a.
func FormatArchiveURL(a ArchiveURL) string {
	u := url.URL{
		Scheme: a.HSMType,
		Host:   a.HSMName,
		Path:   "/",
	}
	// Keys stay in store, group, bfid order and the bfid's ':' separator
	// is left unescaped, as in the layout shown on ArchiveURL.
	u.RawQuery = "store=" + url.QueryEscape(a.Store) +
		"&group=" + url.QueryEscape(a.Group) +
		"&bfid=" + url.QueryEscape(a.Pnfsid) + ":" + url.QueryEscape(a.ContainerPnfsid)
	return u.String()
}

// ParseArchiveURL parses a BFID archive URL previously produced by
// FormatArchiveURL (or by the original Python packer, which uses the same
// layout).
func ParseArchiveURL(raw string) (ArchiveURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ArchiveURL{}, errors.Wrap(err, "catalogmodel: parse archive URL")
	}

	bfid := u.Query().Get("bfid")
	pnfsid, containerPnfsid, ok := strings.Cut(bfid, ":")
	if !ok {
		return ArchiveURL{}, errors.Errorf("catalogmodel: malformed bfid %q in %q", bfid, raw)
	}

	return ArchiveURL{
		HSMType:         u.Scheme,
		HSMName:         u.Host,
		Store:           u.Query().Get("store"),
		Group:           u.Query().Get("group"),
		Pnfsid:          pnfsid,
		ContainerPnfsid: containerPnfsid,
	}, nil
}

// ParseETag extracts the container PNFSID from a WebDAV ETag of the form
// `"<pnfsid>_<rest>"`.
func ParseETag(etag string) (string, error) {
	etag = strings.Trim(etag, `"`)
	pnfsid, _, ok := strings.Cut(etag, "_")
	if !ok {
		return "", errors.Errorf("catalogmodel: malformed ETag %q", etag)
	}
	return pnfsid, nil
}

// ParseLocation splits a stage record's location entry
// (`<scheme>:<archive-pnfsid>`) into its scheme and archive PNFSID,
// cutting on the last colon so a scheme embedding its own colons still
// yields the right archive PNFSID.
func ParseLocation(location string) (scheme, archivePnfsid string, err error) {
	i := strings.LastIndex(location, ":")
	if i < 0 {
		return "", "", errors.Errorf("catalogmodel: malformed location %q", location)
	}
	return location[:i], location[i+1:], nil
}
