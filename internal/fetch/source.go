package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

// defaultHTTPTimeout bounds a whole archive download.
const defaultHTTPTimeout = 10 * time.Minute

// sumsFileName is the checksum file published next to each release.
const sumsFileName = "SHA256SUMS"

// Archive is an opened release archive.
type Archive struct {
	io.ReadCloser

	// Name is the archive filename; its suffix selects the decompressor.
	Name string

	// Expected is the digest the archive must hash to, if the source knows it.
	Expected digest.Digest

	// Trusted marks content the source has already verified
	// (e.g. content-addressed registry layers).
	Trusted bool
}

// Source opens release archives.
type Source interface {
	// Name describes the source for logs and the artifact index.
	Name() string

	// Open returns the archive stream. The caller closes it.
	Open(ctx context.Context) (*Archive, error)
}

// HTTPSource downloads <Endpoint>/<Version>/<Filename>.
type HTTPSource struct {
	Endpoint string
	Version  string
	Filename string
	Client   *http.Client
}

// NewHTTPSource returns a source for the release archive of version on
// this host, from LIGHTNINGD_DOWNLOAD_ENDPOINT or GitHub releases.
func NewHTTPSource(version string) (*HTTPSource, error) {
	filename, err := HostReleaseFilename(version)
	if err != nil {
		return nil, err
	}
	return &HTTPSource{
		Endpoint: Endpoint(),
		Version:  version,
		Filename: filename,
	}, nil
}

func (s *HTTPSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func (s *HTTPSource) url(file string) string {
	return strings.TrimRight(s.Endpoint, "/") + "/" + s.Version + "/" + file
}

// Name implements Source.
func (s *HTTPSource) Name() string {
	return s.url(s.Filename)
}

// Open implements Source.
func (s *HTTPSource) Open(ctx context.Context) (*Archive, error) {
	body, err := s.get(ctx, s.url(s.Filename))
	if err != nil {
		return nil, err
	}
	return &Archive{ReadCloser: body, Name: s.Filename}, nil
}

// Sums implements SumsProvider with the release's SHA256SUMS file.
func (s *HTTPSource) Sums(ctx context.Context) (map[string]digest.Digest, error) {
	body, err := s.get(ctx, s.url(sumsFileName))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ParseSHA256Sums(body)
}

func (s *HTTPSource) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrDownload, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: %s", ErrDownload, url, resp.Status)
	}
	return resp.Body, nil
}

// FileSource reads a local release archive (LIGHTNINGD_TARBALL_FILE).
// A SHA256SUMS file in the same directory provides the expected digest.
type FileSource struct {
	Path string
}

// Name implements Source.
func (s *FileSource) Name() string {
	return "file://" + s.Path
}

// Open implements Source.
func (s *FileSource) Open(context.Context) (*Archive, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return &Archive{ReadCloser: f, Name: filepath.Base(s.Path)}, nil
}

// Sums implements SumsProvider.
func (s *FileSource) Sums(ctx context.Context) (map[string]digest.Digest, error) {
	return SumsFile(filepath.Join(filepath.Dir(s.Path), sumsFileName)).Sums(ctx)
}

// OCISource flattens a container image that ships lightningd under /usr.
// Registry content is verified by digest as it is pulled.
type OCISource struct {
	Ref string

	// Options are passed to remote.Image after the context and platform.
	Options []remote.Option
}

// Name implements Source.
func (s *OCISource) Name() string {
	return "oci://" + s.Ref
}

// Open implements Source.
func (s *OCISource) Open(ctx context.Context) (*Archive, error) {
	ref, err := name.ParseReference(s.Ref)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference: %w", err)
	}

	platform, err := v1.ParsePlatform("linux/" + runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("could not parse platform: %w", err)
	}

	opts := append([]remote.Option{remote.WithContext(ctx), remote.WithPlatform(*platform)}, s.Options...)
	img, err := remote.Image(ref, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch image %s: %w", ErrDownload, ref, err)
	}

	return &Archive{
		ReadCloser: mutate.Extract(img),
		Name:       "image.tar",
		Trusted:    true,
	}, nil
}

// SourceFromEnv picks the source configured by the environment:
// LIGHTNINGD_TARBALL_FILE if set, otherwise an HTTP release download.
func SourceFromEnv(version string) (Source, error) {
	if path := os.Getenv(TarballFileEnv); path != "" {
		return &FileSource{Path: path}, nil
	}
	return NewHTTPSource(version)
}
