// Package lightningdtest provides test helpers around package lightningd:
// launching a node tied to a test's lifetime, and a fake lightningd built
// from the test binary itself.
package lightningdtest

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// Start launches lightningd with conf and stops it when the test ends.
//
// The test is skipped when no executable can be resolved, unless
// LIGHTNINGD_EXE is set, in which case a bad override fails the test.
func Start(tb testing.TB, conf lightningd.Conf) *lightningd.Node {
	tb.Helper()

	exe, err := lightningd.ExePath()
	if err != nil {
		if errors.Is(err, lightningd.ErrNotFound) && os.Getenv(lightningd.ExeEnv) == "" {
			tb.Skipf("lightningd not available: %v", err)
		}
		tb.Fatalf("resolving lightningd: %v", err)
	}
	return StartWithExe(tb, exe, conf)
}

// StartWithExe launches exe with conf and stops it when the test ends.
func StartWithExe(tb testing.TB, exe string, conf lightningd.Conf) *lightningd.Node {
	tb.Helper()

	node, err := lightningd.Launch(context.Background(), exe, conf)
	if err != nil {
		tb.Fatalf("launching lightningd: %v", err)
	}
	tb.Cleanup(func() {
		if err := node.Stop(); err != nil {
			tb.Errorf("stopping lightningd: %v", err)
		}
	})
	return node
}

// StartFake launches the test binary as a fake lightningd in mode.
// The package's TestMain must call MaybeRunFakeDaemon.
func StartFake(tb testing.TB, mode string, conf lightningd.Conf) *lightningd.Node {
	tb.Helper()

	exe, err := FakeExe()
	if err != nil {
		tb.Fatalf("locating test binary: %v", err)
	}
	conf.Env = append(append([]string(nil), conf.Env...), FakeEnv(mode)...)
	return StartWithExe(tb, exe, conf)
}
