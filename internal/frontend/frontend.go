// Package frontend is the small typed client for the catalog frontend's
// id-resolution endpoint: given a pnfsid, resolve the namespace path the
// stager needs to download a cached archive from the WebDAV door. It is
// modeled on the same request/response plumbing as internal/backend/rest
// (drain-then-close, one request per call) but scaled down to the single
// GET this system's frontend contract needs — spec.md §6 names "frontend"
// as a distinct collaborator from the webdav_door and driver_url, so it
// gets its own client rather than being folded into internal/webdav.
package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

// ErrNotFound is returned when the frontend has no record of a pnfsid.
type ErrNotFound struct {
	Pnfsid string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("frontend: %s not found", e.Pnfsid)
}

// IsNotFound reports whether err was caused by an unknown pnfsid.
func IsNotFound(err error) bool {
	var e ErrNotFound
	return errors.As(err, &e)
}

// Client resolves pnfsids to namespace paths via the catalog frontend's
// REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (config's frontend endpoint).
func New(baseURL string, rt http.RoundTripper) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Transport: rt},
	}
}

type idResponse struct {
	Path string `json:"path"`
}

// ResolvePath performs GET <frontend>/api/v1/id/<pnfsid> and returns the
// resolved namespace path, per spec.md §4.G step 2 and §6.
func (c *Client) ResolvePath(ctx context.Context, pnfsid string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/id/%s", c.baseURL, pnfsid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "http.NewRequest")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "client.Do")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNotFound{Pnfsid: pnfsid}
	default:
		return "", errors.Errorf("frontend: unexpected response for %s: %v", pnfsid, resp.Status)
	}

	var body idResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decoding frontend response")
	}
	if body.Path == "" {
		return "", errors.Errorf("frontend: empty path for %s", pnfsid)
	}
	return body.Path, nil
}
