package lightningd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no usable lightningd executable can be resolved.
	ErrNotFound = errors.New("lightningd: executable not found")

	// ErrConfigWrite is returned when the working directory or config file cannot be prepared.
	ErrConfigWrite = errors.New("lightningd: cannot write config")

	// ErrSpawn is returned when the OS refuses to start the process.
	ErrSpawn = errors.New("lightningd: spawn failed")

	// ErrStartupTimeout is returned when the daemon is not RPC-ready in time.
	ErrStartupTimeout = errors.New("lightningd: startup timeout")

	// ErrExitedEarly is returned when the daemon exits before becoming ready.
	ErrExitedEarly = errors.New("lightningd: exited before ready")

	// ErrShutdown is returned when the process cannot be killed or its
	// working directory cannot be removed.
	ErrShutdown = errors.New("lightningd: shutdown failed")

	// ErrBothDirsSpecified is returned when both WorkDir and TempDirRoot are set.
	ErrBothDirsSpecified = errors.New("lightningd: both work_dir and tempdir_root specified")

	// ErrPortMismatch is returned when the daemon that answers is not the one
	// that was configured: its lightning directory differs, or it binds a
	// different peer port while the listener was left to the harness.
	ErrPortMismatch = errors.New("lightningd: port or directory mismatch")

	// ErrInvalidConf is returned when Conf fails validation.
	ErrInvalidConf = errors.New("lightningd: invalid configuration")
)

// ExitError describes a daemon that exited before it became ready.
type ExitError struct {
	// ExitCode is the process exit code, -1 if killed by a signal.
	ExitCode int

	// Signal names the terminating signal, if any.
	Signal string

	// Stderr and Stdout hold the tail of the daemon's output logs.
	Stderr string
	Stdout string
}

func (e *ExitError) Error() string {
	var b strings.Builder
	if e.Signal != "" {
		fmt.Fprintf(&b, "lightningd exited before ready (signal %s)", e.Signal)
	} else {
		fmt.Fprintf(&b, "lightningd exited before ready (code %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(s)
	}
	return b.String()
}

// Unwrap lets errors.Is match ErrExitedEarly.
func (e *ExitError) Unwrap() error {
	return ErrExitedEarly
}
