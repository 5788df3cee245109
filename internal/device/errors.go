package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown identity
//	}
var (
	// ErrDeviceNotFound is returned when no record exists for an identity.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNoAddress is returned when a record has never been attributed a datagram.
	ErrNoAddress = errors.New("device: no known address")
)
