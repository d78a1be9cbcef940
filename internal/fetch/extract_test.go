package fetch

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

type tarEntry struct {
	name     string
	typeflag byte
	mode     int64
	body     string
	linkname string
}

// releaseEntries mimics the layout of a release archive.
var releaseEntries = []tarEntry{
	{name: "usr/", typeflag: tar.TypeDir, mode: 0o755},
	{name: "usr/bin/", typeflag: tar.TypeDir, mode: 0o755},
	{name: "usr/bin/lightningd", typeflag: tar.TypeReg, mode: 0o755, body: "#!/bin/sh\necho lightningd\n"},
	{name: "usr/bin/lightning-cli", typeflag: tar.TypeReg, mode: 0o755, body: "#!/bin/sh\n"},
	{name: "usr/libexec/c-lightning/lightning_hsmd", typeflag: tar.TypeReg, mode: 0o755, body: "hsmd"},
	{name: "usr/libexec/c-lightning/lightning_gossipd", typeflag: tar.TypeSymlink, linkname: "lightning_hsmd"},
	{name: "usr/share/doc/README", typeflag: tar.TypeLink, linkname: "usr/bin/lightning-cli"},
	{name: "etc/ignored.conf", typeflag: tar.TypeReg, mode: 0o644, body: "ignored"},
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     e.mode,
			Linkname: e.linkname,
			Size:     int64(len(e.body)),
		}
		if e.typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s) error = %v", e.name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write(%s) error = %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close() error = %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip Close() error = %v", err)
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter() error = %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("xz Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("xz Close() error = %v", err)
	}
	return buf.Bytes()
}

func TestExtractFormats(t *testing.T) {
	plain := buildTar(t, releaseEntries)

	tests := []struct {
		name string
		data []byte
	}{
		{"release.tar", plain},
		{"release.tar.gz", gzipBytes(t, plain)},
		{"release.tgz", gzipBytes(t, plain)},
		{"clightning-v24.02.2-Ubuntu-22.04.tar.xz", xzBytes(t, plain)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := Extract(tt.name, bytes.NewReader(tt.data), dir); err != nil {
				t.Fatalf("Extract() error = %v", err)
			}

			exe, err := findExecutable(dir)
			if err != nil {
				t.Fatalf("findExecutable() error = %v", err)
			}
			if exe != filepath.Join(dir, "usr", "bin", "lightningd") {
				t.Errorf("exe = %q", exe)
			}

			link, err := os.Readlink(filepath.Join(dir, "usr/libexec/c-lightning/lightning_gossipd"))
			if err != nil || link != "lightning_hsmd" {
				t.Errorf("symlink = %q, %v", link, err)
			}

			body, err := os.ReadFile(filepath.Join(dir, "usr/share/doc/README"))
			if err != nil || string(body) != "#!/bin/sh\n" {
				t.Errorf("hardlink content = %q, %v", body, err)
			}

			if _, err := os.Stat(filepath.Join(dir, "etc")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("entries outside usr/ must be skipped, stat err = %v", err)
			}
		})
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	err := Extract("release.zip", bytes.NewReader(nil), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "unsupported archive format") {
		t.Fatalf("Extract() error = %v, want unsupported format", err)
	}
}

func TestExtractRejectsEscapes(t *testing.T) {
	tests := []struct {
		name  string
		entry tarEntry
	}{
		{
			name:  "dotdot file",
			entry: tarEntry{name: "usr/../../evil", typeflag: tar.TypeReg, mode: 0o644, body: "x"},
		},
		{
			name:  "leading dotdot",
			entry: tarEntry{name: "../usr/bin/evil", typeflag: tar.TypeReg, mode: 0o644, body: "x"},
		},
		{
			name:  "relative symlink escape",
			entry: tarEntry{name: "usr/bin/evil", typeflag: tar.TypeSymlink, linkname: "../../../etc/passwd"},
		},
		{
			name:  "hardlink escape",
			entry: tarEntry{name: "usr/bin/evil", typeflag: tar.TypeLink, linkname: "usr/../../etc/passwd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dir := filepath.Join(parent, "target")
			data := buildTar(t, []tarEntry{tt.entry})

			if err := Extract("evil.tar", bytes.NewReader(data), dir); err == nil {
				t.Fatal("Extract() should reject the entry")
			}
			if _, err := os.Lstat(filepath.Join(parent, "evil")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("file written outside target: %v", err)
			}
		})
	}
}

func TestExtractAbsoluteSymlinkIsRerooted(t *testing.T) {
	dir := t.TempDir()
	data := buildTar(t, []tarEntry{
		{name: "usr/bin/lightningd", typeflag: tar.TypeReg, mode: 0o755, body: "bin"},
		{name: "usr/local/bin/lightningd", typeflag: tar.TypeSymlink, linkname: "/usr/bin/lightningd"},
	})

	if err := Extract("image.tar", bytes.NewReader(data), dir); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	link, err := os.Readlink(filepath.Join(dir, "usr/local/bin/lightningd"))
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if filepath.IsAbs(link) {
		t.Errorf("link = %q, want relative", link)
	}
	body, err := os.ReadFile(filepath.Join(dir, "usr/local/bin/lightningd"))
	if err != nil || string(body) != "bin" {
		t.Errorf("resolved content = %q, %v", body, err)
	}
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"usr/bin/lightningd", "usr/bin/lightningd", true},
		{"./usr/bin/lightningd", "usr/bin/lightningd", true},
		{"/usr/bin/lightningd", "usr/bin/lightningd", true},
		{"usr", "usr", true},
		{"usrlocal/bin", "", false},
		{"etc/passwd", "", false},
		{"./", "", false},
		{"../x", "../x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryPath(tt.name)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("entryPath(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
