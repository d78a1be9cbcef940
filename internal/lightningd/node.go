package lightningd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/lightningd-harness/internal/process"
	"github.com/nerrad567/lightningd-harness/internal/rpc"
)

// State is the lifecycle state of a Node.
type State string

const (
	StateSpawned     State = "spawned"
	StatePolling     State = "polling"
	StateReady       State = "ready"
	StateTimedOut    State = "timed_out"
	StateExitedEarly State = "exited_early"
	StateFailed      State = "failed"
	StateStopped     State = "stopped"
)

// Log stream names accepted by Node.Tail.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ErrUnknownStream is returned by Tail for a stream other than stdout or stderr.
var ErrUnknownStream = errors.New("lightningd: unknown log stream")

// Node is a running lightningd instance and everything it owns: the
// process, the working directory (unless caller-supplied), the reserved
// ports and an RPC client.
//
// Stop must be called exactly when the node is no longer needed; further
// calls are no-ops.
type Node struct {
	id       string
	exe      string
	conf     Conf
	prepared *prepared
	proc     *process.Manager
	client   *rpc.Client
	logger   Logger
	observer Observer

	startedAt time.Time

	// stopMu serialises readiness waits and teardown.
	stopMu  sync.Mutex
	stopped bool

	stateMu sync.RWMutex
	state   State
	info    *rpc.Info
}

// ID returns the harness-assigned node identifier.
func (n *Node) ID() string { return n.id }

// Exe returns the executable the node was started from.
func (n *Node) Exe() string { return n.exe }

// PID returns the daemon's process ID.
func (n *Node) PID() int { return n.proc.PID() }

// WorkDir returns the lightning directory.
func (n *Node) WorkDir() string { return n.prepared.layout.Dir }

// OwnsWorkDir reports whether Stop removes the working directory.
func (n *Node) OwnsWorkDir() bool { return n.prepared.ownsDir }

// Layout returns the paths of the node's files.
func (n *Node) Layout() Layout { return n.prepared.layout }

// RPCPort returns the configured gRPC port.
func (n *Node) RPCPort() int { return n.prepared.rpcPort }

// PeerPort returns the peer listening port.
func (n *Node) PeerPort() int { return n.prepared.peerPort }

// RPCSocket returns the path of the JSON-RPC unix socket.
func (n *Node) RPCSocket() string { return n.prepared.layout.RPCSocket }

// Client returns the JSON-RPC client for the node.
func (n *Node) Client() *rpc.Client { return n.client }

// Args returns the arguments the daemon was started with.
func (n *Node) Args() []string {
	return append([]string(nil), n.prepared.args...)
}

// Info returns the getinfo result captured at readiness, nil before.
func (n *Node) Info() *rpc.Info {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.info
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.stateMu.Lock()
	n.state = s
	n.stateMu.Unlock()
}

// Tail returns up to maxBytes from the end of the named output log.
// The logs of an owned directory are gone once the node is stopped.
func (n *Node) Tail(stream string, maxBytes int) (string, error) {
	switch stream {
	case StreamStdout:
		return process.Tail(n.prepared.layout.StdoutLog, maxBytes)
	case StreamStderr:
		return process.Tail(n.prepared.layout.StderrLog, maxBytes)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
}

// Snapshot is a point-in-time view of a Node.
type Snapshot struct {
	ID          string        `json:"id"`
	State       State         `json:"state"`
	PID         int           `json:"pid"`
	Exe         string        `json:"exe"`
	Network     string        `json:"network"`
	WorkDir     string        `json:"work_dir"`
	OwnsWorkDir bool          `json:"owns_work_dir"`
	RPCSocket   string        `json:"rpc_socket"`
	RPCPort     int           `json:"rpc_port"`
	PeerPort    int           `json:"peer_port"`
	Uptime      time.Duration `json:"uptime"`
	Info        *rpc.Info     `json:"info,omitempty"`

	// Process reports the daemon process, including its exit once reaped.
	Process process.Stats `json:"process"`
}

// Snapshot returns the node's current state.
func (n *Node) Snapshot() Snapshot {
	n.stateMu.RLock()
	state, info := n.state, n.info
	n.stateMu.RUnlock()

	stats := n.proc.Stats()
	return Snapshot{
		ID:          n.id,
		State:       state,
		PID:         stats.PID,
		Exe:         n.exe,
		Network:     NetworkRegtest,
		WorkDir:     n.prepared.layout.Dir,
		OwnsWorkDir: n.prepared.ownsDir,
		RPCSocket:   n.prepared.layout.RPCSocket,
		RPCPort:     n.prepared.rpcPort,
		PeerPort:    n.prepared.peerPort,
		Uptime:      stats.Uptime,
		Info:        info,
		Process:     stats,
	}
}

// Done returns a channel closed when the daemon process exits.
func (n *Node) Done() <-chan struct{} {
	return n.proc.Done()
}

// Stop shuts the daemon down and releases everything the node owns.
//
// Sequence:
//  1. "stop" RPC (SIGTERM to the process group if the RPC cannot be sent)
//  2. SIGKILL to the process group once the graceful timeout passes
//  3. Remove an owned working directory, only after the process is reaped
//  4. Release the reserved ports
//
// A second call returns nil. Failing to kill the process or remove the
// directory is reported as ErrShutdown.
func (n *Node) Stop() error {
	n.stopMu.Lock()
	defer n.stopMu.Unlock()

	if n.stopped {
		return nil
	}
	n.stopped = true

	start := time.Now()
	err := n.shutdown()
	n.setState(StateStopped)

	if err != nil {
		n.logger.Error("lightningd stop failed", "node_id", n.id, "error", err)
	} else {
		exit, _ := n.proc.ExitState()
		n.logger.Info("lightningd stopped",
			"node_id", n.id,
			"elapsed", time.Since(start),
			"exit", exit.String(),
			"clean_exit", exit.Success(),
		)
	}
	n.emit(EventStopped, time.Since(start), err)
	return err
}

// shutdown performs the Stop sequence. Caller must hold stopMu.
func (n *Node) shutdown() error {
	var errs []error

	if !n.proc.Exited() {
		deadline := time.Now().Add(n.conf.GracefulTimeout)

		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		rpcErr := n.client.Stop(ctx)
		cancel()

		if rpcErr != nil {
			n.logger.Debug("stop rpc failed, stopping by signal", "node_id", n.id, "error", rpcErr)
			if err := n.proc.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrShutdown, err))
			}
		} else if !n.proc.WaitTimeout(time.Until(deadline)) {
			n.logger.Warn("graceful shutdown timeout, sending SIGKILL",
				"node_id", n.id,
				"timeout", n.conf.GracefulTimeout,
			)
			if err := n.proc.Kill(); err != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrShutdown, err))
			}
		}
	}

	if n.proc.Exited() {
		n.reapGroup()
	}

	if n.prepared.ownsDir {
		if n.proc.Exited() {
			if err := os.RemoveAll(n.prepared.layout.Dir); err != nil {
				errs = append(errs, fmt.Errorf("%w: removing %s: %w", ErrShutdown, n.prepared.layout.Dir, err))
			}
		} else {
			errs = append(errs, fmt.Errorf("%w: keeping %s, process %d still alive",
				ErrShutdown, n.prepared.layout.Dir, n.PID()))
		}
	}

	if err := n.prepared.releasePorts(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// reapGroup kills subdaemons the main process left behind. They share its
// process group and may still hold files in the working directory.
func (n *Node) reapGroup() {
	clean, err := n.proc.KillGroup()
	switch {
	case err != nil:
		n.logger.Warn("killing leftover subdaemons failed", "node_id", n.id, "error", err)
	case !clean:
		n.logger.Warn("subdaemons still present after SIGKILL", "node_id", n.id)
	}
}

// emit sends a lifecycle event to the observer.
func (n *Node) emit(t EventType, elapsed time.Duration, err error) {
	n.observer.OnEvent(Event{
		Type:     t,
		NodeID:   n.id,
		PID:      n.PID(),
		WorkDir:  n.prepared.layout.Dir,
		RPCPort:  n.prepared.rpcPort,
		PeerPort: n.prepared.peerPort,
		Elapsed:  elapsed,
		Err:      err,
		Time:     time.Now(),
	})
}
