// lnharness fetches, launches and supervises throwaway regtest lightningd
// nodes for integration tests.
//
// Usage:
//
//	lnharness fetch          download and verify the pinned release into the cache
//	lnharness cache list     show the releases recorded in the cache index
//	lnharness exe-path       print the lightningd the harness would launch
//	lnharness run            launch a node and keep it up until interrupted
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
