package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExitState describes how a process terminated.
type ExitState struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int

	// Signal names the terminating signal, if any.
	Signal string

	// Err is a wait error that is not a plain non-zero exit.
	Err error

	// Time is when the exit was observed.
	Time time.Time
}

// newExitState normalises the result of exec.Cmd.Wait.
func newExitState(ps *os.ProcessState, waitErr error) ExitState {
	state := ExitState{Code: -1, Time: time.Now()}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		state.Err = waitErr
	}

	if ps == nil {
		return state
	}

	state.Code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		state.Signal = ws.Signal().String()
	}
	return state
}

// Success reports whether the process exited with code 0.
func (s ExitState) Success() bool {
	return s.Code == 0 && s.Signal == "" && s.Err == nil
}

func (s ExitState) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("wait error: %v", s.Err)
	case s.Signal != "":
		return "signal: " + s.Signal
	default:
		return fmt.Sprintf("exit code %d", s.Code)
	}
}
