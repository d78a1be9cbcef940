package fetch

import "sync"

// downloaded memoises the cached executable for the whole process.
// Only a successful lookup is stored; once set it never changes.
var downloaded struct {
	mu   sync.Mutex
	path string
}

// Downloaded returns the cached lightningd for the pinned version
// (LIGHTNINGD_VERSION or DefaultVersion) in the default cache directory.
//
// It never downloads; run the fetcher (lnharness fetch) to populate the
// cache. The first successful result is reused for the rest of the process.
func Downloaded() (string, error) {
	downloaded.mu.Lock()
	defer downloaded.mu.Unlock()

	if downloaded.path != "" {
		return downloaded.path, nil
	}

	dir, err := DefaultCacheDir()
	if err != nil {
		return "", err
	}
	cache := &Cache{Dir: dir}

	path, err := cache.ExePath(Version())
	if err != nil {
		return "", err
	}
	downloaded.path = path
	return path, nil
}
