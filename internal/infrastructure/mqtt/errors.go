package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker connection is down.
	// Publishers treat it as "event dropped", not as a failure.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned for empty topics, wildcards in a publish
	// topic, or a malformed subscription filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
