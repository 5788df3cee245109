package relay

import "errors"

var (
	// ErrBadTopic is returned for a command message on an unexpected topic.
	ErrBadTopic = errors.New("relay: not a device command topic")

	// ErrEmptyCommand is returned for a command message with no content.
	ErrEmptyCommand = errors.New("relay: empty command payload")

	// ErrNoBus is returned when command subscription is requested without MQTT.
	ErrNoBus = errors.New("relay: mqtt not configured")
)
