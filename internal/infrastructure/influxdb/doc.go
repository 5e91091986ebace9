// Package influxdb provides InfluxDB connectivity for the pairing relay.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writing and health monitoring.
//
// # Purpose
//
// The relay writes aggregate telemetry only:
//   - pairing_event: one point per lifecycle event, tagged by kind, role and reason
//   - pairing_connections: periodic connection and pair counts
//
// Connection ids are never written as tags.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePairingEvent("paired", "controller", "", 0, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; errors are
// delivered asynchronously through SetOnError.
package influxdb
