// Package archivecache manages the stager's local cache of downloaded ZIP
// containers. A container archive is downloaded once and kept on local
// disk, in its own subdirectory, so that repeated stage requests for
// small files inside it don't each download it again.
//
// The cache is indexed the way the teacher's internal/bloblru indexes blob
// contents: a bounded, evictable structure that the stager both reads and
// writes on every file served. Unlike bloblru's in-process byte budget,
// eviction here is time-based (an archive is kept while it is in demand,
// dropped once idle) so the index is an expirable.LRU keyed by container
// PNFSID, refreshed on every read exactly the way the teacher's cache
// package refreshes a directory's mtime on every use.
package archivecache

import (
	"path/filepath"
	"regexp"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dcache-sapphire/smallfiles-packer/internal/debug"
	"github.com/dcache-sapphire/smallfiles-packer/internal/errors"
	"github.com/dcache-sapphire/smallfiles-packer/internal/fs"
)

const dirMode = 0700

var pnfsidPattern = regexp.MustCompile(`^[a-fA-F0-9]{36}$`)

// Cache is a directory of cached containers, one subdirectory per
// container PNFSID, fronted by an in-memory TTL index that drives eviction.
type Cache struct {
	base  string
	idle  time.Duration
	index *lru.LRU[string, struct{}]
}

// Open ensures base exists and returns a Cache rooted there. keepIdle is
// the idle timeout before a cached container is evicted; it corresponds to
// spec's keepArchiveTimeMin configuration knob.
func Open(base string, keepIdle time.Duration) (*Cache, error) {
	if err := fs.MkdirAll(base, dirMode); err != nil {
		return nil, errors.Wrap(err, "MkdirAll")
	}

	c := &Cache{base: base, idle: keepIdle}
	c.index = lru.NewLRU[string, struct{}](0, func(containerID string, _ struct{}) {
		if err := fs.RemoveAll(c.containerDir(containerID)); err != nil {
			debug.Log("archivecache: evict %v failed: %v", containerID, err)
		}
	}, keepIdle)

	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// reload seeds the in-memory index from whatever extraction directories
// already exist on disk, so a restart doesn't forget what's cached.
func (c *Cache) reload() error {
	names, err := fs.Readdirnames(c.base, -1)
	if err != nil {
		if fs.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "Readdirnames")
	}

	for _, name := range names {
		if !pnfsidPattern.MatchString(name) {
			continue
		}
		fi, err := fs.Stat(filepath.Join(c.base, name))
		if err != nil || !fi.IsDir() {
			continue
		}
		c.index.Add(name, struct{}{})
	}
	return nil
}

func (c *Cache) containerDir(containerID string) string {
	return filepath.Join(c.base, containerID)
}

func validKey(containerID string) bool {
	return pnfsidPattern.MatchString(containerID)
}

// Path returns the local extraction directory for containerID, without
// checking whether it has been populated yet.
func (c *Cache) Path(containerID string) (string, error) {
	if !validKey(containerID) {
		return "", errors.Errorf("archivecache: not a pnfsid: %q", containerID)
	}
	return c.containerDir(containerID), nil
}

// Has reports whether containerID is tracked in the cache right now. It
// does not refresh the TTL; use Touch for that.
func (c *Cache) Has(containerID string) bool {
	_, ok := c.index.Peek(containerID)
	return ok
}

// Reserve creates (if needed) the extraction directory for containerID,
// registers it in the index and returns its path, ready for the stager to
// write the downloaded archive into.
func (c *Cache) Reserve(containerID string) (string, error) {
	dir, err := c.Path(containerID)
	if err != nil {
		return "", err
	}
	if err := fs.MkdirAll(dir, dirMode); err != nil {
		return "", errors.Wrap(err, "MkdirAll")
	}
	c.index.Add(containerID, struct{}{})
	return dir, nil
}

// Touch refreshes containerID's idle timer, marking it as recently used.
// The stager calls this on every file served out of a cached container.
func (c *Cache) Touch(containerID string) error {
	if !validKey(containerID) {
		return errors.Errorf("archivecache: not a pnfsid: %q", containerID)
	}
	if _, ok := c.index.Get(containerID); !ok {
		// On a miss the directory was never reserved (or already evicted),
		// so there's nothing to refresh.
		return errors.Errorf("archivecache: %v not reserved", containerID)
	}
	// Get does not extend an entry's expiry; re-adding the key restarts
	// its TTL.
	c.index.Add(containerID, struct{}{})
	return nil
}

// Evict removes containerID from the index, which triggers the on-disk
// cleanup callback synchronously.
func (c *Cache) Evict(containerID string) {
	c.index.Remove(containerID)
}

// Len returns the number of containers currently tracked.
func (c *Cache) Len() int {
	return c.index.Len()
}

// Base returns the cache's root directory.
func (c *Cache) Base() string {
	return c.base
}
