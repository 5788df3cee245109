package process

import "errors"

var (
	// ErrLaunch is returned when the process could not be started.
	ErrLaunch = errors.New("process: launch failed")

	// ErrExitStatus is returned when the process exited with a non-zero status.
	ErrExitStatus = errors.New("process: non-zero exit status")
)
