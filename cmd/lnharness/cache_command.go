package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lightningd-harness/internal/fetch"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the lightningd release cache",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheDirCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fetched releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only use

			artifacts, err := fetch.NewSQLiteIndex(db.DB).List(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				if artifacts == nil {
					artifacts = []fetch.Artifact{}
				}
				return writeJSONOutput(cmd.OutOrStdout(), artifacts)
			}
			printArtifacts(cmd.OutOrStdout(), artifacts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the artifacts as JSON")
	return cmd
}

func newCacheDirCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cache, err := openCache(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cache.Dir)
			return nil
		},
	}
}

func printArtifacts(out io.Writer, artifacts []fetch.Artifact) {
	if len(artifacts) == 0 {
		fmt.Fprintln(out, "No releases fetched")
		return
	}

	const stampLayout = "2006-01-02 15:04"
	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, []string{
			a.Version,
			shortDigest(a.Digest.String()),
			a.Source,
			a.FetchedAt.Local().Format(stampLayout),
			a.ExePath,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Version", "Digest", "Source", "Fetched", "Executable"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

// shortDigest trims a sha256 digest to its first 12 hex characters.
func shortDigest(d string) string {
	const keep = len("sha256:") + 12
	if len(d) <= keep {
		return d
	}
	return d[:keep]
}
