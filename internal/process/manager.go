package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusFailed   Status = "failed"
)

// Default timeouts applied by NewManager.
const (
	defaultGracefulTimeout = 10 * time.Second
	defaultKillTimeout     = 5 * time.Second

	// logFileMode is the permission mode for redirected output files.
	logFileMode = 0o644

	// groupPollInterval is how often KillGroup checks for leftover children.
	groupPollInterval = 10 * time.Millisecond
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format),
	// appended to the parent's environment.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// StdoutPath and StderrPath receive the process output. They are
	// truncated on every start. Empty means the stream is discarded.
	StdoutPath string
	StderrPath string

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// KillTimeout is how long to wait for the process to be reaped after SIGKILL.
	KillTimeout time.Duration
}

// Logger defines the logging interface for the process manager.
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

// Manager owns exactly one spawned subprocess.
//
// The process runs in its own process group so that every child it forks
// (lightningd starts several subdaemons) is signalled together.
type Manager struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	exit      *ExitState
	startTime time.Time

	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.KillTimeout == 0 {
		cfg.KillTimeout = defaultKillTimeout
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start spawns the subprocess.
//
// The process lifetime is not bound to ctx; ctx is only checked before the
// spawn. A Manager can be started once.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	if m.status != StatusStopped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, m.config.Name)
	}
	m.status = StatusStarting
	m.mu.Unlock()

	if err := m.startProcess(); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.mu.Unlock()
		close(m.done)
		return err
	}
	return nil
}

// startProcess actually starts the subprocess.
func (m *Manager) startProcess() error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary path is checked by the caller

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := openOutput(m.config.StdoutPath)
	if err != nil {
		return fmt.Errorf("opening stdout log: %w", err)
	}
	defer stdout.Close() //nolint:errcheck // child holds its own descriptor

	stderr, err := openOutput(m.config.StderrPath)
	if err != nil {
		return fmt.Errorf("opening stderr log: %w", err)
	}
	defer stderr.Close() //nolint:errcheck // child holds its own descriptor

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.wait(cmd)

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	return nil
}

// openOutput opens path truncated, or the null device when path is empty.
// Output from an earlier run in the same directory is discarded.
func openOutput(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, logFileMode)
}

// wait reaps the process and records how it exited.
func (m *Manager) wait(cmd *exec.Cmd) {
	waitErr := cmd.Wait()
	state := newExitState(cmd.ProcessState, waitErr)

	m.mu.Lock()
	m.exit = &state
	m.status = StatusExited
	m.mu.Unlock()

	m.logger.Info("process exited",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
		"exit", state.String(),
	)

	close(m.done)
}

// Done returns a channel that is closed once the process has exited
// (or failed to start).
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Exited reports whether the process has exited and been reaped.
func (m *Manager) Exited() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// ExitState returns how the process exited. ok is false while it is running.
func (m *Manager) ExitState() (state ExitState, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.exit == nil {
		return ExitState{}, false
	}
	return *m.exit, true
}

// WaitTimeout waits up to d for the process to exit.
// Returns true if it exited within the timeout.
func (m *Manager) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return m.Exited()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-m.done:
		return true
	case <-timer.C:
		return false
	}
}

// Signal sends sig to the whole process group.
// A process group that is already gone is not an error.
func (m *Manager) Signal(sig unix.Signal) error {
	pid := m.PID()
	if pid == 0 || m.Exited() {
		return nil
	}

	// Use negative PID to signal the process group (created via Setpgid)
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signalling process group %s: %w", m.config.Name, err)
	}
	return nil
}

// Kill sends SIGKILL to the process group and waits for the process to be reaped.
func (m *Manager) Kill() error {
	if m.PID() == 0 || m.Exited() {
		return nil
	}

	m.logger.Debug("killing process group", "name", m.config.Name, "pid", m.PID())

	if err := m.Signal(unix.SIGKILL); err != nil {
		return err
	}

	if !m.WaitTimeout(m.config.KillTimeout) {
		return fmt.Errorf("%w: %s after %v", ErrKillTimeout, m.config.Name, m.config.KillTimeout)
	}
	return nil
}

// KillGroup sends SIGKILL to the process group even after the leader has
// exited, so children left behind by the leader are killed too. It then
// waits up to the kill timeout for the group to disappear and reports
// whether it did. A group that is already gone is not an error.
func (m *Manager) KillGroup() (bool, error) {
	pid := m.PID()
	if pid == 0 {
		return true, nil
	}

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return true, nil
		}
		return false, fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}

	deadline := time.Now().Add(m.config.KillTimeout)
	for time.Now().Before(deadline) {
		if errors.Is(unix.Kill(-pid, 0), unix.ESRCH) {
			return true, nil
		}
		time.Sleep(groupPollInterval)
	}
	return false, nil
}

// Stop gracefully stops the subprocess.
// It sends SIGTERM and waits for graceful shutdown, then SIGKILL if needed.
// Stopping a process that is not running is a no-op.
func (m *Manager) Stop() error {
	if m.PID() == 0 || m.Exited() {
		return nil
	}

	pid := m.PID()
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := m.Signal(unix.SIGTERM); err != nil {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	if m.WaitTimeout(m.config.GracefulTimeout) {
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	}

	m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
		"name", m.config.Name,
		"timeout", m.config.GracefulTimeout,
	)

	if err := m.Kill(); err != nil {
		return err
	}

	m.logger.Info("process killed", "name", m.config.Name)
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// PID returns the process ID, or 0 if never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats holds statistics about the managed process.
type Stats struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	PID      int           `json:"pid,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Signal   string        `json:"signal,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:   m.config.Name,
		Status: m.status,
	}

	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.exit != nil {
		code := m.exit.Code
		stats.ExitCode = &code
		stats.Signal = m.exit.Signal
	}

	return stats
}
