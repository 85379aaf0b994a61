package driver

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	log "github.com/sirupsen/logrus"

	"qcheck/internal/check"
	"qcheck/internal/diag"
)

// Bump when CachedUnit or anything it embeds changes shape.
const cacheSchemaVersion uint16 = 1

// DiskCache stores per-unit check results keyed by UnitDigest. It is safe
// for concurrent use.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// CachedUnit is the on-disk record of one checked unit.
type CachedUnit struct {
	Schema      uint16
	Result      *check.Result
	Diagnostics []diag.Diagnostic
}

// OpenDiskCache opens the cache under $XDG_CACHE_HOME/<app>, falling back
// to ~/.cache/<app>.
func OpenDiskCache(app string) (*DiskCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	return OpenDiskCacheAt(filepath.Join(base, app))
}

// OpenDiskCacheAt opens a cache rooted at dir.
func OpenDiskCacheAt(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *DiskCache) pathFor(key Digest) string {
	return filepath.Join(c.dir, "units", key.String()+".mp")
}

// Put writes payload atomically: encode into a temp file, then rename.
func (c *DiskCache) Put(key Digest, payload *CachedUnit) error {
	if c == nil {
		return nil
	}
	payload.Schema = cacheSchemaVersion

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Debugf("cache: remove %s: %v", tmp, rmErr)
		}
	}()

	if err := msgpack.NewEncoder(f).Encode(payload); err != nil {
		_ = f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Get reads the record for key. A missing record, or one written by another
// schema version, is a miss.
func (c *DiskCache) Get(key Digest, out *CachedUnit) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	// #nosec G304 -- path is derived from a hex digest inside the cache dir
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Debugf("cache: close: %v", closeErr)
		}
	}()
	if err := msgpack.NewDecoder(f).Decode(out); err != nil {
		return false, err
	}
	return out.Schema == cacheSchemaVersion, nil
}

// DropAll removes every cached record.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "units"))
}
