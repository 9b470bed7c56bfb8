// Package webdav is the HTTP client for the WebDAV door: the tape/disk
// front-end every container and replica ultimately lives behind. It
// mirrors the request/response plumbing of the teacher's
// internal/backend/rest (drain-then-close response bodies, a
// distinguished not-exist error), generalized from a restic-specific
// REST protocol to the HEAD/GET/PUT/DELETE + Want-Digest/ETag contract
// this system's storage door speaks.
package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"


	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
)

// WantDigest is the algorithm set this system always negotiates, in the
// order spec.md §6 lists them.
const WantDigest = "ADLER32,MD5,SHA1"

// ErrNotExist is returned whenever the door reports 404 for a path.
type ErrNotExist struct {
	Path string
}

func (e ErrNotExist) Error() string {
	return fmt.Sprintf("%s does not exist", e.Path)
}

// IsNotExist reports whether err was caused by a missing remote path.
func IsNotExist(err error) bool {
	var e ErrNotExist
	return errors.As(err, &e)
}

// ErrUnauthorized is returned whenever the door reports 401, meaning the
// configured macaroon is invalid or expired. Callers must treat this as
// fatal to the current tick per spec.md §4.G step 2.
var ErrUnauthorized = errors.New("macaroon rejected by webdav door")

// Info is the subset of a HEAD response this system cares about.
type Info struct {
	Digests     map[string]string // algorithm (uppercase) -> value, parsed from Digest
	ETag        string
	ContentSize int64
}

// Client talks to one WebDAV door using a bearer macaroon for auth.
type Client struct {
	baseURL  string
	macaroon string
	http     *http.Client
}

// New builds a Client against baseURL (e.g. config's webdav_door),
// authenticating every request with macaroon.
func New(baseURL, macaroon string, rt http.RoundTripper) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		macaroon: macaroon,
		http:     &http.Client{Transport: rt},
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, errors.Wrap(err, "http.NewRequest")
	}
	req.Header.Set("Authorization", "Bearer "+c.macaroon)
	return req, nil
}

// Head issues a HEAD request and returns the parsed digest/ETag/size
// info. Requests the full algorithm set via Want-Digest.
func (c *Client) Head(ctx context.Context, path string) (Info, error) {
	req, err := c.newRequest(ctx, http.MethodHead, path, nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Want-Digest", WantDigest)

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, errors.Wrap(err, "client.Do")
	}
	defer drain(resp)

	if err := statusErr(resp, path); err != nil {
		return Info{}, err
	}

	return Info{
		Digests:     parseDigest(resp.Header.Get("Digest")),
		ETag:        resp.Header.Get("ETag"),
		ContentSize: resp.ContentLength,
	}, nil
}

// Get downloads path in full. The caller must close the returned reader.
func (c *Client) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "client.Do")
	}

	if err := statusErr(resp, path); err != nil {
		drain(resp)
		return nil, err
	}

	return resp.Body, nil
}

// Put uploads the full contents of rd to path, replacing whatever is
// there.
func (c *Client) Put(ctx context.Context, path string, rd io.Reader, size int64) error {
	req, err := c.newRequest(ctx, http.MethodPut, path, rd)
	if err != nil {
		return err
	}
	req.ContentLength = size

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "client.Do")
	}
	defer drain(resp)

	return statusErr(resp, path)
}

// Delete removes path from the door.
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "client.Do")
	}
	defer drain(resp)

	return statusErr(resp, path)
}

func statusErr(resp *http.Response, path string) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotExist{Path: path}
	default:
		return errors.Errorf("unexpected webdav response for %s: %v (%v)", path, resp.Status, resp.StatusCode)
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseDigest parses a Digest header of the form "algo=value,algo=value"
// into an uppercase-keyed map, matching spec.md §6's "<algo>=<value>"
// format.
func parseDigest(header string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		algo, value, ok := strings.Cut(part, "=")
		if !ok || algo == "" {
			continue
		}
		out[strings.ToUpper(algo)] = value
	}
	return out
}

// FormatDigest renders a single algo=value pair for a Digest request
// header/body, the inverse of parseDigest for one entry.
func FormatDigest(algo, value string) string {
	var b bytes.Buffer
	b.WriteString(strings.ToUpper(algo))
	b.WriteByte('=')
	b.WriteString(value)
	return b.String()
}
