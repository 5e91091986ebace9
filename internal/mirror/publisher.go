// Package mirror republishes pairing engine events to an MQTT broker.
//
// The current availability set is kept on a retained topic so late
// subscribers see it immediately; lifecycle events go to one unretained
// topic per kind:
//
//	relay/availability          retained, {"available":[...],"timestamp":"..."}
//	relay/events/{kind}         {"kind":"paired","connection_id":"...",...}
//
// Publishing happens on a single worker goroutine fed by a bounded queue,
// so Observe never blocks the engine. When the queue is full the message
// is dropped and counted.
package mirror

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/nerrad567/pairing-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// defaultQueueSize bounds pending publishes.
const defaultQueueSize = 256

// Broker publishes a payload to a topic. Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// AvailabilitySource returns the current availability set.
// Satisfied by (*pairing.Engine).Availability.
type AvailabilitySource func() []pairing.AvailabilityEntry

// Logger defines the logging interface used by the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Publisher.
type Options struct {
	Topics    mqtt.Topics
	QoS       byte
	QueueSize int
	Logger    Logger
}

// AvailabilityMessage is the retained availability payload.
type AvailabilityMessage struct {
	Available []pairing.AvailabilityEntry `json:"available"`
	Timestamp string                      `json:"timestamp"`
}

// EventMessage is the payload of an event topic.
type EventMessage struct {
	Kind         string `json:"kind"`
	ConnectionID string `json:"connection_id,omitempty"`
	PartnerID    string `json:"partner_id,omitempty"`
	Role         string `json:"role,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Bytes        int    `json:"bytes,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// job is one pending publish. An availability job reads the source when
// it runs, so a backlog always publishes the latest set.
type job struct {
	availability bool
	event        pairing.Event
}

// Publisher mirrors engine events to MQTT. It implements pairing.Observer.
type Publisher struct {
	broker Broker
	source AvailabilitySource
	topics mqtt.Topics
	qos    byte
	logger Logger

	queue    chan job
	finished chan struct{}

	// mu guards closed and closing queue.
	mu     sync.Mutex
	closed bool

	closing  atomic.Bool
	dropped  atomic.Uint64
	drainErr error // written by the worker before finished is closed
}

// New creates a Publisher and starts its worker.
func New(broker Broker, source AvailabilitySource, opts Options) *Publisher {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Publisher{
		broker:   broker,
		source:   source,
		topics:   opts.Topics,
		qos:      opts.QoS,
		logger:   logger,
		queue:    make(chan job, size),
		finished: make(chan struct{}),
	}
	go p.run()
	return p
}

// Observe implements pairing.Observer.
//
// High-volume relayed events are not mirrored; relayDropped is.
func (p *Publisher) Observe(ev pairing.Event) {
	switch ev.Kind {
	case pairing.EventRelayed:
		return
	case pairing.EventAvailability:
		p.enqueue(job{availability: true})
	default:
		p.enqueue(job{event: ev})
	}
}

// Refresh queues a republish of the retained availability set, for use
// after a broker reconnect.
func (p *Publisher) Refresh() {
	p.enqueue(job{availability: true})
}

// Dropped returns how many messages were discarded because the queue was
// full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) enqueue(j job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case p.queue <- j:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("mirror queue full, message dropped", "dropped_total", n)
	}
}

// Close stops accepting events, publishes what is already queued and waits
// for the worker. Publish failures during the drain are returned combined.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.closing.Store(true)
	close(p.queue)
	p.mu.Unlock()

	<-p.finished
	return p.drainErr
}

func (p *Publisher) run() {
	defer close(p.finished)

	for j := range p.queue {
		if err := p.publish(j); err != nil {
			p.logger.Warn("mirror publish failed", "error", err)
			if p.closing.Load() {
				p.drainErr = multierr.Append(p.drainErr, err)
			}
		}
	}
}

func (p *Publisher) publish(j job) error {
	if j.availability {
		return p.publishAvailability()
	}
	return p.publishEvent(j.event)
}

func (p *Publisher) publishAvailability() error {
	msg := AvailabilityMessage{
		Available: []pairing.AvailabilityEntry{},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if p.source != nil {
		if entries := p.source(); entries != nil {
			msg.Available = entries
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding availability: %w", err)
	}
	topic := p.topics.Availability()
	if err := p.broker.Publish(topic, payload, p.qos, true); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	p.logger.Debug("availability mirrored", "topic", topic, "available", len(msg.Available))
	return nil
}

func (p *Publisher) publishEvent(ev pairing.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	payload, err := json.Marshal(EventMessage{
		Kind:         string(ev.Kind),
		ConnectionID: ev.ConnectionID,
		PartnerID:    ev.PartnerID,
		Role:         string(ev.Role),
		Reason:       ev.Reason,
		Bytes:        ev.Bytes,
		Timestamp:    at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	topic := p.topics.Event(string(ev.Kind))
	if err := p.broker.Publish(topic, payload, p.qos, false); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}
