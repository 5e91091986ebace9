package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the relay.
const (
	MeasurementPairingEvent = "pairing_event"
	MeasurementConnections  = "pairing_connections"
)

// WritePairingEvent records one pairing lifecycle event.
//
// Connection ids are deliberately not tagged: they are unbounded and would
// explode series cardinality. The write is non-blocking.
//
// Example:
//
//	client.WritePairingEvent("pairRejected", "controller", "targetPaired", 0, time.Now())
func (c *Client) WritePairingEvent(kind, role, reason string, bytes int, at time.Time) {
	tags := map[string]string{"kind": kind}
	if role != "" {
		tags["role"] = role
	}
	if reason != "" {
		tags["reason"] = reason
	}

	fields := map[string]interface{}{"count": 1}
	if bytes > 0 {
		fields["bytes"] = bytes
	}

	c.WritePointWithTime(MeasurementPairingEvent, tags, fields, at)
}

// WriteConnectionCounts records a snapshot of live connection counts.
func (c *Client) WriteConnectionCounts(controllers, devices, pairs, available int, at time.Time) {
	c.WritePointWithTime(MeasurementConnections, nil, map[string]interface{}{
		"controllers": controllers,
		"devices":     devices,
		"pairs":       pairs,
		"available":   available,
	}, at)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("relay_stats",
//	    map[string]string{"host": "relay-01"},
//	    map[string]interface{}{"goroutines": 42})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
