package telemetry

import (
	"time"

	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// PointWriter writes aggregate pairing points.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WritePairingEvent(kind, role, reason string, bytes int, at time.Time)
	WriteConnectionCounts(controllers, devices, pairs, available int, at time.Time)
}

// InfluxSink writes pairing events to InfluxDB. It implements
// pairing.Observer.
//
// Availability events become connection count snapshots; every other event
// becomes one pairing_event point. Writes are batched by the client and
// never block.
type InfluxSink struct {
	writer PointWriter
	stats  StatsSource
}

// NewInfluxSink creates a sink. stats may be nil, in which case count
// snapshots carry only the available figure.
func NewInfluxSink(writer PointWriter, stats StatsSource) *InfluxSink {
	return &InfluxSink{writer: writer, stats: stats}
}

// Observe implements pairing.Observer.
func (s *InfluxSink) Observe(ev pairing.Event) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	if ev.Kind == pairing.EventAvailability {
		var st pairing.Stats
		if s.stats != nil {
			st = s.stats()
		}
		s.writer.WriteConnectionCounts(st.Controllers, st.Devices, st.Pairs, ev.Available, at)
		return
	}

	s.writer.WritePairingEvent(string(ev.Kind), string(ev.Role), ev.Reason, ev.Bytes, at)
}
