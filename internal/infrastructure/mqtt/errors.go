package mqtt

import "errors"

// Errors returned by the mirror broker client. Publish failures never reach
// controllers or devices; the mirror publisher logs and drops them.
var (
	// ErrNotConnected means the broker link is down, usually mid-reconnect.
	ErrNotConnected = errors.New("mqtt mirror: broker link down")

	// ErrConnectionFailed means the first dial to the broker did not succeed.
	ErrConnectionFailed = errors.New("mqtt mirror: broker unreachable")

	// ErrPublishFailed wraps an oversized, timed out or rejected message.
	ErrPublishFailed = errors.New("mqtt mirror: publish rejected")

	// ErrInvalidQoS means the QoS is outside 0..2.
	ErrInvalidQoS = errors.New("mqtt mirror: qos must be 0, 1 or 2")

	// ErrInvalidTopic means an empty topic was passed to Publish.
	ErrInvalidTopic = errors.New("mqtt mirror: empty topic")
)
