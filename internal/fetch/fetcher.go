package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Logger defines the logging interface for the fetcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Fetcher downloads, verifies and extracts one lightningd version into a Cache.
type Fetcher struct {
	cache   *Cache
	source  Source
	version string

	// Sums overrides where the expected digest comes from. When nil, a
	// source that implements SumsProvider is asked.
	Sums SumsProvider

	// Digest pins the expected archive digest, taking precedence over Sums.
	Digest digest.Digest

	// Index, if set, records every artifact placed in the cache.
	Index Index

	logger Logger
}

// NewFetcher creates a fetcher for version from source into cache.
func NewFetcher(cache *Cache, source Source, version string) *Fetcher {
	return &Fetcher{
		cache:   cache,
		source:  source,
		version: version,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the fetcher.
func (f *Fetcher) SetLogger(logger Logger) {
	f.logger = logger
}

// Fetch makes sure the version is in the cache and returns its artifact.
//
// The steps are:
//  1. Take the per-version cache lock; return early if already cached
//  2. Download the archive to a temp file while hashing it
//  3. Verify the digest (unless the source is trusted)
//  4. Extract usr/ into a staging directory and rename it into place
//  5. Record the artifact in the index
func (f *Fetcher) Fetch(ctx context.Context) (*Artifact, error) {
	unlock, err := f.cache.Lock(ctx, f.version)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			f.logger.Warn("releasing cache lock failed", "version", f.version, "error", err)
		}
	}()

	if exe, err := f.cache.ExePath(f.version); err == nil {
		f.logger.Debug("lightningd already cached", "version", f.version, "exe", exe)
		return f.cachedArtifact(ctx, exe), nil
	}

	f.logger.Info("fetching lightningd", "version", f.version, "source", f.source.Name())
	start := time.Now()

	archive, err := f.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	tmp, got, err := f.download(archive)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp) //nolint:errcheck // temp file

	if err := f.verify(ctx, archive, got); err != nil {
		return nil, err
	}

	exe, err := f.install(archive.Name, tmp)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Version:   f.version,
		Filename:  archive.Name,
		Source:    f.source.Name(),
		Digest:    got,
		ExePath:   exe,
		FetchedAt: time.Now(),
	}
	if f.Index != nil {
		if err := f.Index.Record(ctx, *artifact); err != nil {
			return nil, err
		}
	}

	f.logger.Info("lightningd fetched",
		"version", f.version,
		"exe", exe,
		"digest", got,
		"elapsed", time.Since(start),
	)
	return artifact, nil
}

// cachedArtifact returns the indexed record for an already cached version.
func (f *Fetcher) cachedArtifact(ctx context.Context, exe string) *Artifact {
	if f.Index != nil {
		if a, err := f.Index.Get(ctx, f.version); err == nil {
			return a
		}
	}
	return &Artifact{Version: f.version, ExePath: exe}
}

// download copies the archive into a temp file in the cache directory,
// returning its path and SHA-256 digest.
func (f *Fetcher) download(archive *Archive) (string, digest.Digest, error) {
	tmp, err := os.CreateTemp(f.cache.Dir, ".download-*")
	if err != nil {
		return "", "", fmt.Errorf("creating download file: %w", err)
	}

	digester := digest.SHA256.Digester()
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), archive); err != nil {
		tmp.Close()
		os.Remove(tmp.Name()) //nolint:errcheck // partial download
		return "", "", fmt.Errorf("%w: reading %s: %w", ErrDownload, archive.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // partial download
		return "", "", fmt.Errorf("writing download file: %w", err)
	}
	return tmp.Name(), digester.Digest(), nil
}

// verify compares got against the expected digest.
func (f *Fetcher) verify(ctx context.Context, archive *Archive, got digest.Digest) error {
	expected, err := f.expectedDigest(ctx, archive)
	if err != nil {
		return err
	}
	if expected == "" {
		if archive.Trusted {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoDigest, archive.Name)
	}
	if expected != got {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrDigestMismatch, archive.Name, expected, got)
	}
	return nil
}

// expectedDigest resolves the digest the archive must match, if any.
func (f *Fetcher) expectedDigest(ctx context.Context, archive *Archive) (digest.Digest, error) {
	if f.Digest != "" {
		return f.Digest, nil
	}
	if archive.Expected != "" {
		return archive.Expected, nil
	}

	sums := f.Sums
	if sums == nil {
		provider, ok := f.source.(SumsProvider)
		if !ok {
			return "", nil
		}
		sums = provider
	}

	all, err := sums.Sums(ctx)
	if err != nil {
		if archive.Trusted {
			return "", nil
		}
		return "", fmt.Errorf("%w: loading checksums: %w", ErrNoDigest, err)
	}
	d, ok := all[archive.Name]
	if !ok && !archive.Trusted {
		return "", fmt.Errorf("%w: %s not listed in checksums", ErrNoDigest, archive.Name)
	}
	return d, nil
}

// install extracts the downloaded archive into a staging directory and
// renames it into the version directory.
func (f *Fetcher) install(name, path string) (string, error) {
	staging := filepath.Join(f.cache.Dir, ".staging-"+uuid.NewString())
	defer os.RemoveAll(staging) //nolint:errcheck // gone after a successful rename

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening download: %w", err)
	}
	defer file.Close()

	if err := Extract(name, file, staging); err != nil {
		return "", fmt.Errorf("extracting %s: %w", name, err)
	}
	if _, err := findExecutable(staging); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	target := f.cache.VersionDir(f.version)
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("publishing %s: %w", target, err)
	}

	exe, err := findExecutable(target)
	if err != nil {
		return "", errors.Join(err, fmt.Errorf("after publishing %s", target))
	}
	return exe, nil
}
