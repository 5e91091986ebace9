package influxdb

import "errors"

// Errors returned by the telemetry writer. Callers match them with
// errors.Is; Connect wraps the underlying cause.
var (
	// ErrNotConnected means Close has run, so telemetry points are dropped.
	ErrNotConnected = errors.New("influxdb telemetry: writer closed")

	// ErrConnectionFailed means the startup ping did not reach a healthy server.
	ErrConnectionFailed = errors.New("influxdb telemetry: server unreachable")

	// ErrDisabled means influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb telemetry: disabled")
)
