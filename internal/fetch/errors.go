package fetch

import "errors"

var (
	// ErrDigestMismatch is returned when a downloaded archive does not match
	// its expected SHA-256 digest.
	ErrDigestMismatch = errors.New("fetch: digest mismatch")

	// ErrNoDigest is returned when no expected digest is available for an
	// archive from an untrusted source.
	ErrNoDigest = errors.New("fetch: no expected digest")

	// ErrUnsupportedPlatform is returned when no release build exists for
	// this operating system or architecture.
	ErrUnsupportedPlatform = errors.New("fetch: unsupported platform")

	// ErrDownload is returned when an archive or checksum file cannot be retrieved.
	ErrDownload = errors.New("fetch: download failed")

	// ErrNotCached is returned when the requested version is not in the cache.
	ErrNotCached = errors.New("fetch: version not cached")

	// ErrArtifactNotFound is returned by Index.Get for an unknown version.
	ErrArtifactNotFound = errors.New("fetch: artifact not found")

	// ErrNoExecutable is returned when an extracted archive holds no lightningd.
	ErrNoExecutable = errors.New("fetch: archive contains no lightningd executable")
)
