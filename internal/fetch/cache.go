package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// cacheDirName is the per-user cache subdirectory.
const cacheDirName = "lightningd-harness"

// lockRetryDelay is how often a blocked Lock retries.
const lockRetryDelay = 200 * time.Millisecond

// exeCandidates are where release archives and images keep lightningd.
var exeCandidates = []string{
	filepath.Join("usr", "bin", "lightningd"),
	filepath.Join("usr", "local", "bin", "lightningd"),
}

// Cache is the on-disk store of extracted releases:
// <Dir>/<version>/usr/bin/lightningd.
//
// A version directory only appears once fully extracted and is never
// modified afterwards.
type Cache struct {
	Dir string
}

// DefaultCacheDir returns LIGHTNINGD_CACHE_DIR or the user cache directory.
func DefaultCacheDir() (string, error) {
	if dir := os.Getenv(CacheDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}
	return filepath.Join(base, cacheDirName), nil
}

// VersionDir returns the directory holding version.
func (c *Cache) VersionDir(version string) string {
	return filepath.Join(c.Dir, version)
}

// ExePath returns the cached lightningd for version, or ErrNotCached.
func (c *Cache) ExePath(version string) (string, error) {
	dir := c.VersionDir(version)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s in %s", ErrNotCached, version, c.Dir)
		}
		return "", fmt.Errorf("checking cache: %w", err)
	}

	path, err := findExecutable(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotCached, version, err)
	}
	return path, nil
}

// findExecutable locates lightningd inside an extracted tree.
func findExecutable(root string) (string, error) {
	for _, candidate := range exeCandidates {
		path := filepath.Join(root, candidate)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return path, nil
		}
	}
	return "", ErrNoExecutable
}

// Lock takes the cross-process lock guarding version, waiting until it
// is free or ctx is done. The returned function releases it.
func (c *Cache) Lock(ctx context.Context, version string) (func() error, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	lock := flock.New(filepath.Join(c.Dir, "."+version+".lock"))
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("locking cache for %s: %w", version, err)
	}
	if !ok {
		return nil, fmt.Errorf("locking cache for %s: lock not acquired", version)
	}
	return lock.Unlock, nil
}
