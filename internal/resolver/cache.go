package resolver

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds each of the cache's tables.
const DefaultCacheSize = 16384

type fileKind uint8

const (
	kindMissing fileKind = iota
	kindFile
	kindDir
)

type resolveKey struct {
	config string
	dir    string
	spec   string
}

type cachedResolution struct {
	res Resolution
	err error
}

// Cache memoizes file-system probes, package.json reads and whole resolutions.
// It is owned by the caller and sees the file system as it was when each entry
// was added; Purge it after files change. Resolutions are keyed by the
// resolver configuration, so resolvers with different configurations may share
// one cache. It is safe for concurrent use.
type Cache struct {
	stats       *lru.Cache[string, fileKind]
	packages    *lru.Cache[string, *packageJSON]
	resolutions *lru.Cache[resolveKey, cachedResolution]
}

// NewCache creates a cache holding up to size entries per table.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	stats, _ := lru.New[string, fileKind](size)
	packages, _ := lru.New[string, *packageJSON](size/4 + 1)
	resolutions, _ := lru.New[resolveKey, cachedResolution](size)
	return &Cache{stats: stats, packages: packages, resolutions: resolutions}
}

// Purge drops every cached entry. Call it after the file system changed.
func (c *Cache) Purge() {
	c.stats.Purge()
	c.packages.Purge()
	c.resolutions.Purge()
}

// Len returns the number of cached resolutions.
func (c *Cache) Len() int {
	return c.resolutions.Len()
}

func (c *Cache) kind(path string) fileKind {
	if k, ok := c.stats.Get(path); ok {
		return k
	}
	k := kindMissing
	if info, err := os.Stat(path); err == nil {
		if info.Mode().IsRegular() {
			k = kindFile
		} else if info.IsDir() {
			k = kindDir
		}
	}
	c.stats.Add(path, k)
	return k
}
