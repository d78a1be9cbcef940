package fetch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// osReleasePath is where the distribution is identified.
const osReleasePath = "/etc/os-release"

// OSRelease holds the fields of /etc/os-release used to pick a release build.
type OSRelease struct {
	ID        string
	VersionID string
}

// ParseOSRelease reads KEY=value lines, unquoting values.
func ParseOSRelease(r io.Reader) (OSRelease, error) {
	var rel OSRelease
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		switch key {
		case "ID":
			rel.ID = value
		case "VERSION_ID":
			rel.VersionID = value
		}
	}
	if err := scanner.Err(); err != nil {
		return OSRelease{}, fmt.Errorf("reading os-release: %w", err)
	}
	return rel, nil
}

// ReleaseFilename returns the release archive name for version on rel.
//
// Release builds are published for Ubuntu on x86_64 only, as
// clightning-<version>-Ubuntu-<major>.<minor>.tar.xz.
func ReleaseFilename(version string, rel OSRelease, goarch string) (string, error) {
	if goarch != "amd64" {
		return "", fmt.Errorf("%w: architecture %s", ErrUnsupportedPlatform, goarch)
	}
	if rel.ID != "ubuntu" {
		return "", fmt.Errorf("%w: distribution %q", ErrUnsupportedPlatform, rel.ID)
	}

	parts := strings.Split(rel.VersionID, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: ubuntu version %q", ErrUnsupportedPlatform, rel.VersionID)
	}
	return fmt.Sprintf("clightning-%s-Ubuntu-%s.%s.tar.xz", version, parts[0], parts[1]), nil
}

// HostReleaseFilename returns the release archive name for this host.
func HostReleaseFilename(version string) (string, error) {
	f, err := os.Open(osReleasePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedPlatform, err)
	}
	defer f.Close()

	rel, err := ParseOSRelease(f)
	if err != nil {
		return "", err
	}
	return ReleaseFilename(version, rel, runtime.GOARCH)
}
