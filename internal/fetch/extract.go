package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// extractPrefix is the only tree copied out of an archive. lightningd
// needs its subdaemons from usr/libexec next to usr/bin/lightningd.
const extractPrefix = "usr/"

// decompress wraps r according to the archive filename.
func decompress(name string, r io.Reader) (io.Reader, func() error, error) {
	noop := func() error { return nil }

	switch {
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress xz: %w", err)
		}
		return xr, noop, nil

	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress gzip: %w", err)
		}
		return gr, gr.Close, nil

	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported archive format: %s", name)
	}
}

// Extract unpacks the usr/ tree of the named archive into targetDir.
// Entries outside usr/ are skipped; entries escaping targetDir are an error.
func Extract(name string, r io.Reader, targetDir string) error {
	stream, closeFn, err := decompress(name, r)
	if err != nil {
		return err
	}
	defer closeFn() //nolint:errcheck // read side

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		rel, ok := entryPath(header.Name)
		if !ok {
			continue
		}
		if err := extractEntry(targetDir, rel, header, tr); err != nil {
			return fmt.Errorf("extract tar entry %q: %w", header.Name, err)
		}
	}
}

// entryPath normalises an entry name and reports whether it lies under usr/.
// Names that try to climb out are kept so extractEntry can reject them.
func entryPath(name string) (string, bool) {
	clean := strings.TrimPrefix(filepath.ToSlash(name), "./")
	clean = strings.TrimLeft(clean, "/")
	if clean == "" {
		return "", false
	}
	if strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return clean, true
	}
	if clean != strings.TrimSuffix(extractPrefix, "/") && !strings.HasPrefix(clean, extractPrefix) {
		return "", false
	}
	return clean, true
}

// within reports whether path stays inside dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}

// extractEntry writes a single tar entry below targetDir.
func extractEntry(targetDir, rel string, header *tar.Header, r io.Reader) error {
	targetPath := filepath.Join(targetDir, filepath.FromSlash(rel))

	// Make sure the path is still within targetDir
	if !within(targetDir, targetPath) {
		return fmt.Errorf("path traversal detected: %s", header.Name)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(targetPath, dirMode(header)); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}

		file, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.CopyN(file, r, header.Size); err != nil && !errors.Is(err, io.EOF) {
			file.Close()
			return fmt.Errorf("copy file content: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}

	case tar.TypeSymlink:
		link := header.Linkname
		linkTarget := filepath.Join(filepath.Dir(targetPath), link)
		if filepath.IsAbs(link) {
			// Image layers use absolute links; re-root them in targetDir.
			linkTarget = filepath.Join(targetDir, link)
			rel, err := filepath.Rel(filepath.Dir(targetPath), linkTarget)
			if err != nil {
				return fmt.Errorf("relativise symlink: %w", err)
			}
			link = rel
		}
		if !within(targetDir, linkTarget) {
			return fmt.Errorf("symlink escapes target: %s -> %s", header.Name, header.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		_ = os.Remove(targetPath)
		if err := os.Symlink(link, targetPath); err != nil {
			return fmt.Errorf("create symlink: %w", err)
		}

	case tar.TypeLink:
		rel, ok := entryPath(header.Linkname)
		if !ok {
			// Link target lies outside the extracted tree.
			return nil
		}
		linkTarget := filepath.Join(targetDir, filepath.FromSlash(rel))
		if !within(targetDir, linkTarget) {
			return fmt.Errorf("hardlink escapes target: %s -> %s", header.Name, header.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("mkdir parent: %w", err)
		}
		_ = os.Remove(targetPath)
		if err := os.Link(linkTarget, targetPath); err != nil {
			return fmt.Errorf("create hardlink: %w", err)
		}

	default:
		// Device nodes, fifos and unknown types are not needed.
	}

	return nil
}

// dirMode keeps directories traversable whatever the archive says.
func dirMode(header *tar.Header) os.FileMode {
	return os.FileMode(header.Mode).Perm() | 0o700
}
