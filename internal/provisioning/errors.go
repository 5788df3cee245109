package provisioning

import "errors"

var (
	// ErrNoSerialDevice is recorded when no matching serial node is present.
	ErrNoSerialDevice = errors.New("provisioning: no serial device found")

	// ErrToolchainNotFound is returned when no arduino-cli binary can be located.
	ErrToolchainNotFound = errors.New("provisioning: toolchain not found")

	// ErrRegistrationTimeout is recorded when the node never printed its identity.
	ErrRegistrationTimeout = errors.New("provisioning: no registration received")

	// ErrClosed is returned by Begin after Close.
	ErrClosed = errors.New("provisioning: manager closed")
)
