package process

import "errors"

var (
	// ErrAlreadyStarted is returned when Start is called on a used Manager.
	ErrAlreadyStarted = errors.New("process: already started")

	// ErrKillTimeout is returned when the process is not reaped after SIGKILL.
	ErrKillTimeout = errors.New("process: not reaped after SIGKILL")
)
