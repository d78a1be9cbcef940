package main

import (
	"context"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/nerrad567/lightningd-harness/internal/fetch"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/config"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/influxdb"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/logging"
)

// fetchFlags override the download section of the config file.
type fetchFlags struct {
	version string
	image   string
	tarball string
	digest  string
	json    bool
}

func (f fetchFlags) apply(dl *config.DownloadConfig) {
	if f.version != "" {
		dl.Version = f.version
	}
	if f.image != "" {
		dl.Image = f.image
	}
	if f.tarball != "" {
		dl.TarballFile = f.tarball
	}
	if f.digest != "" {
		dl.Digest = f.digest
	}
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var flags fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download, verify and cache a lightningd release",
		Long: "Download the release archive for this host (or the configured image or\n" +
			"tarball), verify it against SHA256SUMS or a pinned digest, and extract it\n" +
			"into the cache. A cached version is not downloaded again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			local := *cfg
			flags.apply(&local.Download)

			artifact, err := runFetch(cmd.Context(), &local, ctx.logger())
			if err != nil {
				return err
			}

			if flags.json {
				return writeJSONOutput(cmd.OutOrStdout(), artifact)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lightningd %s: %s\n", artifact.Version, artifact.ExePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.version, "version", "", "lightningd version to fetch (default $"+fetch.VersionEnv+" or "+fetch.DefaultVersion+")")
	cmd.Flags().StringVar(&flags.image, "image", "", "Container image to flatten instead of downloading a release archive")
	cmd.Flags().StringVar(&flags.tarball, "tarball", "", "Local release archive to extract")
	cmd.Flags().StringVar(&flags.digest, "digest", "", "Expected archive digest (sha256:<hex>)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Print the artifact as JSON")
	cmd.MarkFlagsMutuallyExclusive("image", "tarball")

	return cmd
}

// newSource picks where the release comes from: an image, a local
// tarball, a configured endpoint, or the environment defaults.
func newSource(dl config.DownloadConfig, version string) (fetch.Source, error) {
	switch {
	case dl.Image != "":
		return &fetch.OCISource{Ref: dl.Image}, nil
	case dl.TarballFile != "":
		return &fetch.FileSource{Path: dl.TarballFile}, nil
	case dl.Endpoint != "":
		src, err := fetch.NewHTTPSource(version)
		if err != nil {
			return nil, err
		}
		src.Endpoint = dl.Endpoint
		return src, nil
	default:
		return fetch.SourceFromEnv(version)
	}
}

// runFetch populates the cache for the configured version, records the
// artifact in the state database and, when enabled, reports the fetch
// time to InfluxDB.
func runFetch(ctx context.Context, cfg *config.Config, log *logging.Logger) (*fetch.Artifact, error) {
	version := releaseVersion(cfg)

	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	source, err := newSource(cfg.Download, version)
	if err != nil {
		return nil, err
	}

	f := fetch.NewFetcher(cache, source, version)
	f.SetLogger(log)

	if cfg.Download.Digest != "" {
		d, err := digest.Parse(cfg.Download.Digest)
		if err != nil {
			return nil, fmt.Errorf("download.digest: %w", err)
		}
		f.Digest = d
	}
	if cfg.Download.SumsFile != "" {
		f.Sums = fetch.SumsFile(cfg.Download.SumsFile)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	f.Index = fetch.NewSQLiteIndex(db.DB)

	_, cacheErr := cache.ExePath(version)
	cached := cacheErr == nil

	start := time.Now()
	artifact, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.InfluxDB.Enabled {
		reportFetch(ctx, cfg.InfluxDB, log, artifact, cached, time.Since(start))
	}
	return artifact, nil
}

// reportFetch writes the fetch timing. InfluxDB being unreachable is
// logged and otherwise ignored.
func reportFetch(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger, a *fetch.Artifact, cached bool, elapsed time.Duration) {
	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, fetch timing not recorded", "error", err)
		return
	}
	defer client.Close() //nolint:errcheck // Close flushes and never fails
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	client.WriteFetch(a.Version, a.Source, cached, elapsed)
}
