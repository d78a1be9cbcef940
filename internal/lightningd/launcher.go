package lightningd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lightningd-harness/internal/portalloc"
	"github.com/nerrad567/lightningd-harness/internal/process"
	"github.com/nerrad567/lightningd-harness/internal/rpc"
)

// killTimeout is how long to wait for the process to be reaped after SIGKILL.
const killTimeout = 5 * time.Second

// Logger defines the logging interface for the launcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventSpawned     EventType = "spawned"
	EventReady       EventType = "ready"
	EventExitedEarly EventType = "exited_early"
	EventTimedOut    EventType = "timed_out"
	EventFailed      EventType = "failed"
	EventStopped     EventType = "stopped"
)

// Event is emitted to the Observer on every lifecycle transition.
type Event struct {
	Type     EventType
	NodeID   string
	PID      int
	WorkDir  string
	RPCPort  int
	PeerPort int

	// Elapsed is the time since spawn (or since Stop was called for EventStopped).
	Elapsed time.Duration

	// Err is set for failure events and for a failed stop.
	Err  error
	Time time.Time
}

// Observer receives lifecycle events. Implementations must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

type noopObserver struct{}

func (noopObserver) OnEvent(Event) {}

// Launcher starts lightningd instances from one executable and Conf.
type Launcher struct {
	exe      string
	conf     Conf
	logger   Logger
	observer Observer
	alloc    *portalloc.Allocator
}

// NewLauncher validates conf and returns a Launcher for exe.
//
// Parameters:
//   - exe: Path to the lightningd executable (see ExePath)
//   - conf: Launch configuration; zero values are replaced by defaults
//
// Returns:
//   - *Launcher: Ready to Launch
//   - error: ErrBothDirsSpecified or ErrInvalidConf
func NewLauncher(exe string, conf Conf) (*Launcher, error) {
	conf.applyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return &Launcher{
		exe:      exe,
		conf:     conf,
		logger:   noopLogger{},
		observer: noopObserver{},
		alloc:    portalloc.Default(),
	}, nil
}

// SetLogger sets the logger for the launcher and the nodes it starts.
func (l *Launcher) SetLogger(logger Logger) {
	l.logger = logger
}

// SetObserver sets the receiver of lifecycle events.
func (l *Launcher) SetObserver(observer Observer) {
	if observer == nil {
		observer = noopObserver{}
	}
	l.observer = observer
}

// SetPortAllocator replaces the process-wide port allocator.
func (l *Launcher) SetPortAllocator(alloc *portalloc.Allocator) {
	l.alloc = alloc
}

// Conf returns the effective configuration (defaults applied).
func (l *Launcher) Conf() Conf {
	return l.conf
}

// Launch starts lightningd and, unless Conf.NoWait is set, waits until it
// answers getinfo.
//
// On any failure the process is killed, an owned working directory is
// removed and the reserved ports are released before Launch returns.
// A daemon that exits before becoming ready is relaunched up to
// Conf.Attempts times in total.
func (l *Launcher) Launch(ctx context.Context) (*Node, error) {
	exe, err := checkExecutable(l.exe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var lastErr error
	for attempt := 1; attempt <= l.conf.Attempts; attempt++ {
		node, err := l.launchOnce(ctx, exe)
		if err == nil {
			return node, nil
		}
		lastErr = err

		if !errors.Is(err, ErrExitedEarly) || attempt == l.conf.Attempts {
			break
		}
		l.logger.Warn("lightningd exited before ready, relaunching",
			"attempt", attempt,
			"attempts", l.conf.Attempts,
			"error", err,
		)
	}
	return nil, lastErr
}

// launchOnce performs a single spawn and readiness wait.
func (l *Launcher) launchOnce(ctx context.Context, exe string) (*Node, error) {
	id := uuid.NewString()

	p, err := build(&l.conf, l.alloc, id)
	if err != nil {
		return nil, err
	}

	proc := process.NewManager(process.Config{
		Name:            "lightningd",
		Binary:          exe,
		Args:            p.args,
		Env:             l.conf.Env,
		WorkDir:         p.layout.Dir,
		StdoutPath:      p.layout.StdoutLog,
		StderrPath:      p.layout.StderrLog,
		GracefulTimeout: l.conf.GracefulTimeout,
		KillTimeout:     killTimeout,
	})
	proc.SetLogger(l.logger)

	if err := proc.Start(ctx); err != nil {
		if cleanupErr := p.discard(); cleanupErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrShutdown, cleanupErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	n := &Node{
		id:        id,
		exe:       exe,
		conf:      l.conf,
		prepared:  p,
		proc:      proc,
		client:    rpc.NewClient(p.layout.RPCSocket, 0),
		logger:    l.logger,
		observer:  l.observer,
		startedAt: time.Now(),
		state:     StateSpawned,
	}

	l.logger.Info("lightningd spawned",
		"node_id", id,
		"pid", proc.PID(),
		"work_dir", p.layout.Dir,
		"rpc_port", p.rpcPort,
		"peer_port", p.peerPort,
	)
	n.emit(EventSpawned, 0, nil)

	if l.conf.NoWait {
		return n, nil
	}
	if err := n.WaitReady(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// Launch starts lightningd from exe with conf.
// It is shorthand for NewLauncher followed by Launcher.Launch.
func Launch(ctx context.Context, exe string, conf Conf) (*Node, error) {
	l, err := NewLauncher(exe, conf)
	if err != nil {
		return nil, err
	}
	return l.Launch(ctx)
}
