package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/lightningd-harness/internal/fetch"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/config"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/database"
	"github.com/nerrad567/lightningd-harness/internal/lightningd"

	_ "github.com/nerrad567/lightningd-harness/migrations"
)

// releaseVersion returns the configured lightningd version, falling back
// to LIGHTNINGD_VERSION and then the pinned default.
func releaseVersion(cfg *config.Config) string {
	if cfg.Download.Version != "" {
		return cfg.Download.Version
	}
	return fetch.Version()
}

// openCache returns the configured cache, or the default one.
func openCache(cfg *config.Config) (*fetch.Cache, error) {
	dir := cfg.Download.CacheDir
	if dir == "" {
		var err error
		if dir, err = fetch.DefaultCacheDir(); err != nil {
			return nil, err
		}
	}
	return &fetch.Cache{Dir: dir}, nil
}

// resolveExe finds the lightningd to launch. LIGHTNINGD_EXE wins over
// lightningd.exe in the config file; otherwise the cached release for the
// configured version is used before falling back to PATH.
func resolveExe(cfg *config.Config) (string, error) {
	cache, err := openCache(cfg)
	if err != nil {
		return "", err
	}
	version := releaseVersion(cfg)

	r := lightningd.DefaultResolver()
	r.Getenv = func(key string) string {
		if v := os.Getenv(key); v != "" || key != lightningd.ExeEnv {
			return v
		}
		return cfg.Lightningd.Exe
	}
	r.Downloaded = func() (string, error) {
		return cache.ExePath(version)
	}
	return r.Resolve()
}

// openDatabase opens the state database and applies the migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func writeJSONOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
