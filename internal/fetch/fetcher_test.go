package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/opencontainers/go-digest"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/database"
	_ "github.com/nerrad567/lightningd-harness/migrations"
)

const (
	testVersion  = "v24.02.2"
	testFilename = "clightning-v24.02.2-Ubuntu-22.04.tar.xz"
)

// releaseServer serves a release archive and its SHA256SUMS.
type releaseServer struct {
	*httptest.Server
	archiveHits atomic.Int32
}

func newReleaseServer(t *testing.T, archive []byte, sums string) *releaseServer {
	t.Helper()

	rs := &releaseServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+testVersion+"/"+testFilename, func(w http.ResponseWriter, _ *http.Request) {
		rs.archiveHits.Add(1)
		w.Write(archive) //nolint:errcheck // test server
	})
	mux.HandleFunc("/"+testVersion+"/SHA256SUMS", func(w http.ResponseWriter, _ *http.Request) {
		if sums == "" {
			http.NotFound(w, nil)
			return
		}
		io.WriteString(w, sums) //nolint:errcheck // test server
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) source() *HTTPSource {
	return &HTTPSource{
		Endpoint: rs.URL,
		Version:  testVersion,
		Filename: testFilename,
		Client:   rs.Client(),
	}
}

func releaseArchive(t *testing.T) ([]byte, digest.Digest) {
	t.Helper()
	data := xzBytes(t, buildTar(t, releaseEntries))
	return data, digest.FromBytes(data)
}

func sumsLine(d digest.Digest, file string) string {
	return fmt.Sprintf("%s  %s\n", d.Encoded(), file)
}

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteIndex(db.DB)
}

func TestFetchHTTP(t *testing.T) {
	archive, sum := releaseArchive(t)
	srv := newReleaseServer(t, archive, sumsLine(sum, testFilename)+sumsLine(digest.FromString("x"), "other.tar.xz"))

	cache := &Cache{Dir: t.TempDir()}
	index := openTestIndex(t)
	ctx := context.Background()

	f := NewFetcher(cache, srv.source(), testVersion)
	f.Index = index

	artifact, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if artifact.Digest != sum {
		t.Errorf("Digest = %s, want %s", artifact.Digest, sum)
	}
	want := filepath.Join(cache.Dir, testVersion, "usr", "bin", "lightningd")
	if artifact.ExePath != want {
		t.Errorf("ExePath = %q, want %q", artifact.ExePath, want)
	}
	if path, err := cache.ExePath(testVersion); err != nil || path != want {
		t.Errorf("cache.ExePath() = %q, %v", path, err)
	}

	// Nothing left behind apart from the version dir and its lock file.
	entries, err := os.ReadDir(cache.Dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if e.Name() != testVersion && e.Name() != "."+testVersion+".lock" {
			t.Errorf("unexpected cache entry %q", e.Name())
		}
	}

	recorded, err := index.Get(ctx, testVersion)
	if err != nil {
		t.Fatalf("index.Get() error = %v", err)
	}
	if recorded.Digest != sum || recorded.Filename != testFilename || recorded.ExePath != want {
		t.Errorf("recorded = %+v", recorded)
	}
	if !strings.HasSuffix(recorded.Source, "/"+testVersion+"/"+testFilename) {
		t.Errorf("recorded source = %q", recorded.Source)
	}

	// Second fetch is served from the cache.
	again, err := f.Fetch(ctx)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if again.ExePath != want || again.Digest != sum {
		t.Errorf("second Fetch() = %+v", again)
	}
	if hits := srv.archiveHits.Load(); hits != 1 {
		t.Errorf("archive downloaded %d times, want 1", hits)
	}
}

func TestFetchDigestErrors(t *testing.T) {
	archive, sum := releaseArchive(t)

	tests := []struct {
		name    string
		sums    string
		pinned  digest.Digest
		wantErr error
	}{
		{
			name:    "mismatch",
			sums:    sumsLine(digest.FromString("tampered"), testFilename),
			wantErr: ErrDigestMismatch,
		},
		{
			name:    "not listed",
			sums:    sumsLine(sum, "some-other-file.tar.xz"),
			wantErr: ErrNoDigest,
		},
		{
			name:    "sums missing",
			sums:    "",
			wantErr: ErrNoDigest,
		},
		{
			name:    "pinned digest wins",
			sums:    sumsLine(sum, testFilename),
			pinned:  digest.FromString("pinned"),
			wantErr: ErrDigestMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newReleaseServer(t, archive, tt.sums)
			cache := &Cache{Dir: t.TempDir()}

			f := NewFetcher(cache, srv.source(), testVersion)
			f.Digest = tt.pinned

			_, err := f.Fetch(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := cache.ExePath(testVersion); !errors.Is(err, ErrNotCached) {
				t.Errorf("failed fetch must not populate the cache, ExePath err = %v", err)
			}
		})
	}
}

func TestFetchExplicitSums(t *testing.T) {
	archive, sum := releaseArchive(t)
	srv := newReleaseServer(t, archive, "")

	sumsPath := filepath.Join(t.TempDir(), "SHA256SUMS")
	if err := os.WriteFile(sumsPath, []byte(sumsLine(sum, testFilename)), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(&Cache{Dir: t.TempDir()}, srv.source(), testVersion)
	f.Sums = SumsFile(sumsPath)

	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestFetchHTTPNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := &HTTPSource{Endpoint: srv.URL, Version: testVersion, Filename: testFilename, Client: srv.Client()}
	_, err := NewFetcher(&Cache{Dir: t.TempDir()}, src, testVersion).Fetch(context.Background())
	if !errors.Is(err, ErrDownload) {
		t.Fatalf("Fetch() error = %v, want ErrDownload", err)
	}
}

func TestFetchFileSource(t *testing.T) {
	archive, sum := releaseArchive(t)
	dir := t.TempDir()
	path := filepath.Join(dir, testFilename)
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SHA256SUMS"), []byte(sumsLine(sum, testFilename)), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Path: path}
	if src.Name() != "file://"+path {
		t.Errorf("Name() = %q", src.Name())
	}

	artifact, err := NewFetcher(&Cache{Dir: t.TempDir()}, src, testVersion).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := os.Stat(artifact.ExePath); err != nil {
		t.Errorf("extracted exe missing: %v", err)
	}
}

func TestFetchArchiveWithoutExecutable(t *testing.T) {
	data := buildTar(t, []tarEntry{
		{name: "usr/share/doc/README", typeflag: tar.TypeReg, mode: 0o644, body: "docs"},
	})
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.tar")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(&Cache{Dir: t.TempDir()}, &FileSource{Path: path}, testVersion)
	f.Digest = digest.FromBytes(data)

	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrNoExecutable) {
		t.Fatalf("Fetch() error = %v, want ErrNoExecutable", err)
	}
}

func TestFetchOCI(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	defer srv.Close()

	layerData := buildTar(t, releaseEntries[:3])
	layer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(layerData)), nil
	})
	if err != nil {
		t.Fatalf("LayerFromOpener() error = %v", err)
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		t.Fatalf("AppendLayers() error = %v", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		t.Fatalf("ConfigFile() error = %v", err)
	}
	cfg = cfg.DeepCopy()
	cfg.OS = "linux"
	cfg.Architecture = runtime.GOARCH
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		t.Fatalf("mutate.ConfigFile() error = %v", err)
	}

	refStr := strings.TrimPrefix(srv.URL, "http://") + "/lightningd:" + testVersion
	ref, err := name.ParseReference(refStr)
	if err != nil {
		t.Fatalf("ParseReference() error = %v", err)
	}
	if err := remote.Write(ref, img); err != nil {
		t.Fatalf("remote.Write() error = %v", err)
	}

	cache := &Cache{Dir: t.TempDir()}
	src := &OCISource{Ref: refStr}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	artifact, err := NewFetcher(cache, src, testVersion).Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if artifact.Source != "oci://"+refStr {
		t.Errorf("Source = %q", artifact.Source)
	}
	body, err := os.ReadFile(artifact.ExePath)
	if err != nil || !strings.Contains(string(body), "echo lightningd") {
		t.Errorf("extracted exe = %q, %v", body, err)
	}
}

func TestCacheLock(t *testing.T) {
	cache := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}

	unlock, err := cache.Lock(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := cache.Lock(ctx, testVersion); err == nil {
		t.Fatal("second Lock() should block until the context expires")
	}

	// Other versions are independent.
	otherUnlock, err := cache.Lock(context.Background(), "v23.11")
	if err != nil {
		t.Fatalf("Lock(other) error = %v", err)
	}
	if err := otherUnlock(); err != nil {
		t.Errorf("unlock other: %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	relock, err := cache.Lock(context.Background(), testVersion)
	if err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
	relock() //nolint:errcheck // test cleanup
}

func TestCacheExePathNotCached(t *testing.T) {
	cache := &Cache{Dir: t.TempDir()}
	if _, err := cache.ExePath("v0.0.0"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("ExePath() error = %v, want ErrNotCached", err)
	}

	// A version directory without an executable is not a cache hit.
	if err := os.MkdirAll(filepath.Join(cache.Dir, "v0.0.1", "usr", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.ExePath("v0.0.1"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("ExePath() error = %v, want ErrNotCached", err)
	}
}

func TestSQLiteIndexList(t *testing.T) {
	index := openTestIndex(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []string{"v23.11", "v24.02.2"} {
		a := Artifact{
			Version:   v,
			Filename:  "clightning-" + v + ".tar.xz",
			Source:    "test",
			Digest:    digest.FromString(v),
			ExePath:   "/cache/" + v + "/usr/bin/lightningd",
			FetchedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := index.Record(ctx, a); err != nil {
			t.Fatalf("Record(%s) error = %v", v, err)
		}
	}

	// Re-recording updates in place.
	if err := index.Record(ctx, Artifact{
		Version: "v23.11", Filename: "f", Source: "again", Digest: digest.FromString("again"),
		ExePath: "/x", FetchedAt: base.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("Record(update) error = %v", err)
	}

	list, err := index.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d artifacts, want 2", len(list))
	}
	if list[0].Version != "v23.11" || list[0].Source != "again" {
		t.Errorf("newest = %+v", list[0])
	}
	if !list[1].FetchedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("FetchedAt = %v", list[1].FetchedAt)
	}

	if _, err := index.Get(ctx, "v0.0.0"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrArtifactNotFound", err)
	}
}

func TestDownloaded(t *testing.T) {
	reset := func() {
		downloaded.mu.Lock()
		downloaded.path = ""
		downloaded.mu.Unlock()
	}
	reset()
	t.Cleanup(reset)

	dir := t.TempDir()
	t.Setenv(CacheDirEnv, dir)
	t.Setenv(VersionEnv, testVersion)

	if _, err := Downloaded(); !errors.Is(err, ErrNotCached) {
		t.Fatalf("Downloaded() error = %v, want ErrNotCached", err)
	}

	exe := filepath.Join(dir, testVersion, "usr", "bin", "lightningd")
	if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := Downloaded()
	if err != nil {
		t.Fatalf("Downloaded() error = %v", err)
	}
	if got != exe {
		t.Errorf("Downloaded() = %q, want %q", got, exe)
	}

	// The first hit is kept for the process even if the cache moves.
	t.Setenv(CacheDirEnv, t.TempDir())
	if again, err := Downloaded(); err != nil || again != exe {
		t.Errorf("second Downloaded() = %q, %v; want %q", again, err, exe)
	}
}
