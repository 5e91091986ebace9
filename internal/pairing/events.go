package pairing

import "time"

// Logger defines the logging interface used by the pairing package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind identifies a lifecycle event.
type EventKind string

// Event kinds emitted by the Engine.
const (
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventPaired        EventKind = "paired"
	EventUnpaired      EventKind = "unpaired"
	EventPairRejected  EventKind = "pairRejected"
	EventRelayed       EventKind = "relayed"
	EventRelayDropped  EventKind = "relayDropped"
	EventProtocolError EventKind = "protocolError"
	EventAvailability  EventKind = "availability"
)

// Event describes one observable outcome of a transition.
//
// Field use by kind:
//   - connected/disconnected: ConnectionID, Role
//   - paired: ConnectionID (controller), PartnerID (device)
//   - unpaired: ConnectionID, PartnerID, Reason
//   - pairRejected, protocolError: ConnectionID, Reason
//   - relayed, relayDropped: ConnectionID (sender), PartnerID (recipient), Bytes
//   - availability: Available, Delivered, Failed
type Event struct {
	Kind         EventKind
	ConnectionID string
	PartnerID    string
	Role         Role
	Reason       string
	Bytes        int
	Available    int
	Delivered    int
	Failed       int
	At           time.Time
}

// Observer receives events after the transition that produced them has
// released the engine lock. Observe is called synchronously and must not
// block; slow sinks should queue internally.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) {
	f(e)
}
