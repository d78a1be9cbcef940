package fetch

import "os"

// DefaultVersion is the lightningd release fetched when none is configured.
const DefaultVersion = "v24.02.2"

// Environment variables read by this package.
const (
	VersionEnv      = "LIGHTNINGD_VERSION"
	EndpointEnv     = "LIGHTNINGD_DOWNLOAD_ENDPOINT"
	TarballFileEnv  = "LIGHTNINGD_TARBALL_FILE"
	CacheDirEnv     = "LIGHTNINGD_CACHE_DIR"
	DefaultEndpoint = "https://github.com/ElementsProject/lightning/releases/download"
)

// Version returns the pinned lightningd version, honouring LIGHTNINGD_VERSION.
func Version() string {
	if v := os.Getenv(VersionEnv); v != "" {
		return v
	}
	return DefaultVersion
}

// Endpoint returns the release download endpoint, honouring
// LIGHTNINGD_DOWNLOAD_ENDPOINT.
func Endpoint() string {
	if e := os.Getenv(EndpointEnv); e != "" {
		return e
	}
	return DefaultEndpoint
}
