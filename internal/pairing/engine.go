package pairing

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Options configures an Engine.
type Options struct {
	// Logger receives transition logs. Defaults to a no-op logger.
	Logger Logger

	// IncludeControllers adds unpaired controllers to availability payloads.
	IncludeControllers bool

	// Observers are notified of every event after each transition.
	Observers []Observer

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates connection ids. Defaults to NewID.
	NewID func() string
}

// Engine is the pairing state machine.
//
// It owns the Registry, Broadcaster and Router and serialises every
// transition behind a single mutex held for the whole of
// lookup + validate + mutate + enqueue. Peer.Send is non-blocking, so no
// network write happens under the lock. Observers run after it is released.
//
// All public methods are thread-safe.
type Engine struct {
	mu          sync.Mutex
	registry    *Registry
	broadcaster *Broadcaster
	router      *Router
	logger      Logger

	includeControllers bool
	now                func() time.Time
	newID              func() string

	observers []Observer
	obsMu     sync.RWMutex
}

// transition accumulates events produced while the engine lock is held.
type transition struct {
	at     time.Time
	events []Event
}

func (t *transition) emit(e Event) {
	e.At = t.at
	t.events = append(t.events, e)
}

// NewEngine creates a pairing engine with an empty registry.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = NewID
	}

	registry := NewRegistry()
	return &Engine{
		registry:           registry,
		broadcaster:        NewBroadcaster(logger),
		router:             NewRouter(registry),
		logger:             logger,
		includeControllers: opts.IncludeControllers,
		now:                now,
		newID:              newID,
		observers:          append([]Observer(nil), opts.Observers...),
	}
}

// Registry returns the engine's connection registry for read access.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Broadcaster returns the engine's availability broadcaster.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// AddObserver registers an additional observer.
func (e *Engine) AddObserver(o Observer) {
	e.obsMu.Lock()
	e.observers = append(e.observers, o)
	e.obsMu.Unlock()
}

// run executes fn as one serialised transition and then notifies observers.
func (e *Engine) run(fn func(tx *transition) error) error {
	e.mu.Lock()
	tx := &transition{at: e.now()}
	err := fn(tx)
	e.mu.Unlock()

	e.notify(tx.events)
	return err
}

// notify delivers events to observers outside the transition lock.
func (e *Engine) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, ev := range events {
		for _, o := range observers {
			o.Observe(ev)
		}
	}
}

// Connect registers a new connection for peer and returns its snapshot.
//
// Controllers are subscribed to availability, and availability is published
// once, so a new controller immediately learns the current device set.
func (e *Engine) Connect(role Role, peer Peer) (Connection, error) {
	if !role.Valid() {
		return Connection{}, ErrInvalidRole
	}
	if peer == nil {
		return Connection{}, ErrNilPeer
	}

	var conn Connection
	err := e.run(func(tx *transition) error {
		conn = NewConnection(e.newID(), role, tx.at, peer)
		if err := e.registry.Register(conn); err != nil {
			return err
		}
		if role == RoleController {
			e.broadcaster.Subscribe(conn.ID, peer)
		}

		e.logger.Info("connection registered", "connection_id", conn.ID, "role", role)
		tx.emit(Event{Kind: EventConnected, ConnectionID: conn.ID, Role: role})
		e.publishLocked(tx)
		return nil
	})
	if err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// Disconnect tears down a connection whose transport has closed.
//
// If it was paired, the partner is unpaired and told why; the closing side
// is skipped. The connection is then unsubscribed and unregistered and
// availability republished once. Unknown ids are ignored.
func (e *Engine) Disconnect(id string) {
	_ = e.run(func(tx *transition) error { //nolint:errcheck // always nil
		conn, ok := e.registry.Lookup(id)
		if !ok {
			return nil
		}

		if conn.Paired() {
			if partner, found := e.registry.Lookup(conn.Partner); found && partner.Partner == id {
				e.registry.setPartner(partner.ID, "")
				e.deliver(partner, KindUnpaired, ReasonPartnerDisconnected)
				tx.emit(Event{
					Kind:         EventUnpaired,
					ConnectionID: partner.ID,
					PartnerID:    id,
					Reason:       ReasonPartnerDisconnected,
				})
			}
			e.registry.setPartner(id, "")
		}

		e.broadcaster.Unsubscribe(id)
		e.registry.Unregister(id)

		e.logger.Info("connection unregistered", "connection_id", id, "role", conn.Role)
		tx.emit(Event{Kind: EventDisconnected, ConnectionID: id, Role: conn.Role})
		e.publishLocked(tx)
		return nil
	})
}

// RequestPair pairs an unpaired controller with an unpaired device.
//
// Checks run in order and the first failure wins: requester is a
// controller, requester is unpaired, target exists, target is a device,
// target is unpaired. On failure only the requester receives pairError and
// nothing changes. On success both sides receive paired.
func (e *Engine) RequestPair(requesterID, targetID string) error {
	return e.run(func(tx *transition) error {
		requester, ok := e.registry.Lookup(requesterID)
		if !ok {
			return ErrConnectionNotFound
		}

		target, err := e.validatePair(requester, targetID)
		if err != nil {
			e.rejectPairLocked(tx, requester, err)
			return err
		}

		e.registry.setPartner(requester.ID, target.ID)
		e.registry.setPartner(target.ID, requester.ID)

		payload := PairedPayload{ControllerID: requester.ID, DeviceID: target.ID}
		e.deliver(requester, KindPaired, payload)
		e.deliver(target, KindPaired, payload)

		e.logger.Info("connections paired", "controller_id", requester.ID, "device_id", target.ID)
		tx.emit(Event{Kind: EventPaired, ConnectionID: requester.ID, PartnerID: target.ID})
		e.publishLocked(tx)
		return nil
	})
}

// validatePair applies the pair preconditions in order.
func (e *Engine) validatePair(requester Connection, targetID string) (Connection, error) {
	if requester.Role != RoleController {
		return Connection{}, ErrNotController
	}
	if requester.Paired() {
		return Connection{}, ErrAlreadyPaired
	}
	if targetID == "" {
		return Connection{}, ErrInvalidTarget
	}
	target, ok := e.registry.Lookup(targetID)
	if !ok {
		return Connection{}, ErrTargetNotFound
	}
	if target.Role != RoleDevice {
		return Connection{}, ErrTargetNotDevice
	}
	if target.Paired() {
		return Connection{}, ErrTargetPaired
	}
	return target, nil
}

func (e *Engine) rejectPairLocked(tx *transition, requester Connection, cause error) {
	reason := Reason(cause)
	e.deliver(requester, KindPairError, reason)
	e.logger.Debug("pair request rejected", "connection_id", requester.ID, "reason", reason)
	tx.emit(Event{Kind: EventPairRejected, ConnectionID: requester.ID, Reason: reason})
}

// RequestUnpair ends the requester's pairing. Both sides receive unpaired.
// An unpaired requester receives an error and nothing changes.
func (e *Engine) RequestUnpair(requesterID string) error {
	return e.run(func(tx *transition) error {
		requester, ok := e.registry.Lookup(requesterID)
		if !ok {
			return ErrConnectionNotFound
		}

		partner, err := e.router.resolve(requester)
		switch {
		case errors.Is(err, ErrNotPaired):
			e.protocolErrorLocked(tx, requester, err)
			return err
		case errors.Is(err, ErrPartnerGone):
			// The pairing is already half gone; finishing the unpair is the request.
			e.forceUnpairLocked(tx, requester)
			return nil
		}

		e.registry.setPartner(requester.ID, "")
		e.registry.setPartner(partner.ID, "")
		e.deliver(requester, KindUnpaired, ReasonUnpairRequested)
		e.deliver(partner, KindUnpaired, ReasonUnpairRequested)

		e.logger.Info("connections unpaired", "requester_id", requester.ID, "partner_id", partner.ID)
		tx.emit(Event{
			Kind:         EventUnpaired,
			ConnectionID: requester.ID,
			PartnerID:    partner.ID,
			Reason:       ReasonUnpairRequested,
		})
		e.publishLocked(tx)
		return nil
	})
}

// Route forwards payload from sender to its partner verbatim.
//
// An unpaired sender receives an error and nothing is delivered. If the
// partner no longer resolves, the sender is force-unpaired and receives a
// partnerGone error instead.
func (e *Engine) Route(senderID string, payload json.RawMessage) error {
	return e.run(func(tx *transition) error {
		sender, ok := e.registry.Lookup(senderID)
		if !ok {
			return ErrConnectionNotFound
		}

		partner, err := e.router.resolve(sender)
		switch {
		case errors.Is(err, ErrNotPaired):
			e.protocolErrorLocked(tx, sender, err)
			return err
		case errors.Is(err, ErrPartnerGone):
			e.logger.Warn("relay to stale partner", "connection_id", sender.ID, "partner_id", sender.Partner)
			e.forceUnpairLocked(tx, sender)
			e.deliver(sender, KindError, ReasonPartnerGone)
			return err
		}

		ev := Event{ConnectionID: sender.ID, PartnerID: partner.ID, Bytes: len(payload)}
		if sendErr := e.router.forward(partner, payload); sendErr != nil {
			e.logger.Warn("relay dropped", "connection_id", sender.ID, "partner_id", partner.ID, "error", sendErr)
			ev.Kind = EventRelayDropped
		} else {
			ev.Kind = EventRelayed
		}
		tx.emit(ev)
		return nil
	})
}

// forceUnpairLocked clears a one-sided pairing left by a partner that no
// longer resolves. The remaining side is told the partner is gone.
func (e *Engine) forceUnpairLocked(tx *transition, conn Connection) {
	stale := conn.Partner
	e.registry.setPartner(conn.ID, "")
	e.deliver(conn, KindUnpaired, ReasonPartnerGone)
	tx.emit(Event{
		Kind:         EventUnpaired,
		ConnectionID: conn.ID,
		PartnerID:    stale,
		Reason:       ReasonPartnerGone,
	})
	e.publishLocked(tx)
}

// HandleMessage decodes an inbound frame from id and dispatches it.
//
// Errors are reported to the sender on the wire before being returned;
// the returned error is informational for the transport's logs.
func (e *Engine) HandleMessage(id string, data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return e.protocolError(id, err)
	}

	switch env.Type {
	case KindPairRequest:
		// An unusable target becomes "", which validation rejects as
		// invalidTarget after the requester checks.
		target, _ := env.TargetID() //nolint:errcheck // handled by validatePair
		return e.RequestPair(id, target)
	case KindUnpairRequest:
		return e.RequestUnpair(id)
	case KindRelay:
		return e.Route(id, env.Data)
	default:
		return e.protocolError(id, ErrUnknownType)
	}
}

// protocolError reports err to id as an error message.
func (e *Engine) protocolError(id string, cause error) error {
	return e.run(func(tx *transition) error {
		conn, ok := e.registry.Lookup(id)
		if !ok {
			return ErrConnectionNotFound
		}
		e.protocolErrorLocked(tx, conn, cause)
		return cause
	})
}

func (e *Engine) protocolErrorLocked(tx *transition, conn Connection, cause error) {
	reason := Reason(cause)
	e.deliver(conn, KindError, reason)
	e.logger.Debug("protocol error", "connection_id", conn.ID, "reason", reason, "error", cause)
	tx.emit(Event{Kind: EventProtocolError, ConnectionID: conn.ID, Reason: reason})
}

// publishLocked computes the availability set and fans it out.
func (e *Engine) publishLocked(tx *transition) {
	entries := e.availabilityLocked()
	result := e.broadcaster.Publish(entries)
	tx.emit(Event{
		Kind:      EventAvailability,
		Available: len(entries),
		Delivered: result.Delivered,
		Failed:    result.Failed,
	})
}

// availabilityLocked returns the unpaired devices (and controllers, if
// configured) as wire entries.
func (e *Engine) availabilityLocked() []AvailabilityEntry {
	conns := e.registry.ListUnpaired(RoleDevice)
	if e.includeControllers {
		conns = append(conns, e.registry.ListUnpaired(RoleController)...)
	}

	entries := make([]AvailabilityEntry, 0, len(conns))
	for _, c := range conns {
		entries = append(entries, c.Availability())
	}
	return entries
}

// Availability returns the current availability set.
func (e *Engine) Availability() []AvailabilityEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availabilityLocked()
}

// deliver encodes and enqueues a message to conn. Failures are logged and
// never interrupt the transition.
func (e *Engine) deliver(conn Connection, kind string, data any) {
	msg, err := Encode(kind, data)
	if err != nil {
		e.logger.Error("failed to encode message", "kind", kind, "error", err)
		return
	}
	if sendErr := conn.peer.Send(msg); sendErr != nil {
		e.logger.Warn("message delivery failed",
			"connection_id", conn.ID,
			"kind", kind,
			"error", sendErr,
		)
	}
}
