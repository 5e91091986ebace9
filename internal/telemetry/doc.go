// Package telemetry turns pairing engine events into operator metrics.
//
// Two observers are provided:
//
//   - Collector keeps Prometheus counters and gauges on its own registry
//     and serves them through Handler.
//   - InfluxSink writes aggregate points to InfluxDB.
//
// Neither observer records connection ids as labels or tags.
//
// # Usage
//
//	collector := telemetry.NewCollector(engine.Registry().Stats)
//	engine.AddObserver(collector)
//	router.Handle("/metrics", collector.Handler())
//
//	sink := telemetry.NewInfluxSink(influxClient, engine.Registry().Stats)
//	engine.AddObserver(sink)
//
// # Thread Safety
//
// Both observers are safe for concurrent use and never block the caller.
package telemetry
