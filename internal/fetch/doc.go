// Package fetch downloads and caches lightningd release builds.
//
// A Fetcher takes an archive from a Source (GitHub release download,
// local tarball, or container image), verifies its SHA-256 digest against
// the release SHA256SUMS, and extracts the usr/ tree into a per-version
// directory of the Cache. Concurrent fetchers, including those in other
// processes, serialise on a per-version lock file.
//
// Downloaded is the read-only side used by executable resolution: it
// reports the cached binary for the pinned version without downloading.
//
// Usage:
//
//	cache := &fetch.Cache{Dir: dir}
//	src, err := fetch.SourceFromEnv(fetch.Version())
//	if err != nil {
//	    return err
//	}
//	artifact, err := fetch.NewFetcher(cache, src, fetch.Version()).Fetch(ctx)
package fetch
