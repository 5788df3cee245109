package telemetry

import "errors"

var (
	// ErrBind is returned by Start when the UDP socket cannot be bound.
	ErrBind = errors.New("telemetry: bind failed")

	// ErrNotRunning is returned when sending while the server is stopped.
	ErrNotRunning = errors.New("telemetry: server not running")

	// ErrSendIncomplete is returned when fewer bytes than requested were sent.
	ErrSendIncomplete = errors.New("telemetry: incomplete send")
)
