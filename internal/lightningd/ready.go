package lightningd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nerrad567/lightningd-harness/internal/process"
	"github.com/nerrad567/lightningd-harness/internal/rpc"
)

const (
	// getinfoTimeout bounds a single readiness check.
	getinfoTimeout = 2 * time.Second

	// tailBytes is how much of each log goes into an ExitError.
	tailBytes = 4096
)

// WaitReady polls getinfo until the node answers, the process exits, the
// startup timeout passes or ctx is cancelled.
//
// Launch calls it unless Conf.NoWait is set. On failure the node is torn
// down (process killed, owned directory removed, ports released) and the
// returned error is one of ErrStartupTimeout, *ExitError, ErrPortMismatch
// or the context error.
func (n *Node) WaitReady(ctx context.Context) error {
	n.stopMu.Lock()
	defer n.stopMu.Unlock()

	switch n.State() {
	case StateReady:
		return nil
	case StateSpawned:
	default:
		return fmt.Errorf("lightningd: node %s is %s", n.id, n.State())
	}

	n.setState(StatePolling)
	start := time.Now()

	info, err := n.poll(ctx)
	if err != nil {
		return n.abort(err, time.Since(start))
	}

	n.stateMu.Lock()
	n.info = info
	n.state = StateReady
	n.stateMu.Unlock()

	n.logger.Info("lightningd ready",
		"node_id", n.id,
		"pid", n.PID(),
		"node_pubkey", info.ID,
		"elapsed", time.Since(start),
	)
	n.emit(EventReady, time.Since(n.startedAt), nil)
	return nil
}

// poll runs the bounded getinfo loop.
func (n *Node) poll(ctx context.Context) (*rpc.Info, error) {
	timeout := n.conf.StartupTimeout
	deadline := time.Now().Add(timeout)

	n.logger.Debug("waiting for lightningd to be ready",
		"socket", n.prepared.layout.RPCSocket,
		"timeout", timeout,
	)

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for lightningd: %w", ctx.Err())
		default:
		}

		// Check if process is still running
		if n.proc.Exited() {
			return nil, n.exitError()
		}

		callTimeout := min(getinfoTimeout, max(time.Until(deadline), time.Millisecond))
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		info, err := n.client.GetInfo(callCtx)
		cancel()
		if err == nil {
			if err := n.checkOwnership(info); err != nil {
				return nil, err
			}
			return info, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			// The daemon may have died during the last getinfo call.
			if n.proc.Exited() {
				return nil, n.exitError()
			}
			return nil, fmt.Errorf("%w after %v: %w", ErrStartupTimeout, timeout, lastErr)
		}

		timer := time.NewTimer(min(n.conf.PollInterval, time.Until(deadline)))
		select {
		case <-ctx.Done():
		case <-n.proc.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// checkOwnership confirms that the daemon answering on the socket is the
// one this node configured. The lightning directory must match; the peer
// port is checked only while the caller's Args leave the listener alone.
func (n *Node) checkOwnership(info *rpc.Info) error {
	want := n.prepared.layout.NetworkDir
	if info.LightningDir != "" && filepath.Clean(info.LightningDir) != filepath.Clean(want) {
		return fmt.Errorf("%w: socket answered for %s, want %s", ErrPortMismatch, info.LightningDir, want)
	}
	if n.prepared.customListen {
		return nil
	}
	if !info.BindsPort(n.prepared.peerPort) {
		return fmt.Errorf("%w: configured %d, bindings %v",
			ErrPortMismatch, n.prepared.peerPort, info.Binding)
	}
	return nil
}

// exitError builds an ExitError from the reaped process and its logs.
func (n *Node) exitError() error {
	state, _ := n.proc.ExitState()

	stderr, err := process.Tail(n.prepared.layout.StderrLog, tailBytes)
	if err != nil {
		n.logger.Warn("reading stderr tail failed", "node_id", n.id, "error", err)
	}
	stdout, err := process.Tail(n.prepared.layout.StdoutLog, tailBytes)
	if err != nil {
		n.logger.Warn("reading stdout tail failed", "node_id", n.id, "error", err)
	}

	return &ExitError{
		ExitCode: state.Code,
		Signal:   state.Signal,
		Stderr:   stderr,
		Stdout:   stdout,
	}
}

// abort tears the node down after a failed readiness wait.
// Caller must hold stopMu.
func (n *Node) abort(cause error, elapsed time.Duration) error {
	state, event := StateFailed, EventFailed
	switch {
	case errors.Is(cause, ErrExitedEarly):
		state, event = StateExitedEarly, EventExitedEarly
	case errors.Is(cause, ErrStartupTimeout):
		state, event = StateTimedOut, EventTimedOut
	}

	n.logger.Warn("lightningd not ready, tearing down",
		"node_id", n.id,
		"pid", n.PID(),
		"elapsed", elapsed,
		"error", cause,
	)

	var cleanup []error
	if err := n.proc.Kill(); err != nil {
		cleanup = append(cleanup, err)
	}
	if n.proc.Exited() {
		n.reapGroup()
		if err := n.prepared.discard(); err != nil {
			cleanup = append(cleanup, err)
		}
	} else if err := n.prepared.releasePorts(); err != nil {
		cleanup = append(cleanup, err)
	}

	n.stopped = true
	n.setState(state)

	err := cause
	if len(cleanup) > 0 {
		err = errors.Join(cause, fmt.Errorf("%w: %w", ErrShutdown, errors.Join(cleanup...)))
	}
	n.emit(event, time.Since(n.startedAt), err)
	return err
}
