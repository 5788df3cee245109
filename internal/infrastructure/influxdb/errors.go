package influxdb

import "errors"

// Write failures are asynchronous and reach the Logger instead.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrUnhealthy        = errors.New("influxdb: server not healthy")
)
