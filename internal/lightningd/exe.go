package lightningd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nerrad567/lightningd-harness/internal/fetch"
)

// ExeEnv overrides executable resolution.
const ExeEnv = "LIGHTNINGD_EXE"

// exeName is the executable looked up on PATH.
const exeName = "lightningd"

// Resolver locates the lightningd executable.
//
// Resolution order:
//  1. $LIGHTNINGD_EXE (a bad override fails immediately)
//  2. The downloaded binary for the pinned version
//  3. lightningd on $PATH
type Resolver struct {
	// Getenv reads environment variables. Default: os.Getenv.
	Getenv func(string) string

	// LookPath searches PATH. Default: exec.LookPath.
	LookPath func(string) (string, error)

	// Downloaded returns the cached executable. Nil disables step 2.
	Downloaded func() (string, error)
}

// DefaultResolver returns the resolver used by ExePath.
func DefaultResolver() *Resolver {
	return &Resolver{
		Getenv:     os.Getenv,
		LookPath:   exec.LookPath,
		Downloaded: fetch.Downloaded,
	}
}

// ExePath resolves the lightningd executable with the default resolver.
func ExePath() (string, error) {
	return DefaultResolver().Resolve()
}

// Resolve returns an absolute path to an executable lightningd.
func (r *Resolver) Resolve() (string, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	if override := getenv(ExeEnv); override != "" {
		path, err := checkExecutable(override)
		if err != nil {
			return "", fmt.Errorf("%w: %s=%s: %w", ErrNotFound, ExeEnv, override, err)
		}
		return path, nil
	}

	var tried []error

	if r.Downloaded != nil {
		path, err := r.Downloaded()
		if err == nil {
			if path, err = checkExecutable(path); err == nil {
				return path, nil
			}
		}
		tried = append(tried, fmt.Errorf("downloaded: %w", err))
	}

	path, err := lookPath(exeName)
	if err == nil {
		if path, err = checkExecutable(path); err == nil {
			return path, nil
		}
	}
	tried = append(tried, fmt.Errorf("PATH: %w", err))

	return "", fmt.Errorf("%w: %w", ErrNotFound, errors.Join(tried...))
}

// checkExecutable returns the absolute form of path if it is an executable
// regular file.
func checkExecutable(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", abs)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%s is not executable", abs)
	}
	return abs, nil
}
