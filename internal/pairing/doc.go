// Package pairing implements the controller/device pairing state machine
// for the relay server.
//
// Controllers discover unpaired devices through availability updates, pair
// with exactly one device at a time, and exchange opaque relay payloads with
// it. The package knows nothing about WebSockets: transports implement Peer
// and call into the Engine.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                              Engine                                │
//	│                  (one lock per whole transition)                   │
//	│                                                                    │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────┐      │
//	│  │    Registry    │   │  Broadcaster   │   │     Router     │      │
//	│  │ (registry.go)  │   │(broadcaster.go)│   │  (router.go)   │      │
//	│  │                │   │                │   │                │      │
//	│  │ • id → conn    │   │ • controllers  │   │ • partner by id│      │
//	│  │ • snapshots    │   │ • availability │   │ • opaque relay │      │
//	│  └────────────────┘   └────────────────┘   └────────────────┘      │
//	│                                                                    │
//	└──────────────┬───────────────────────────────────┬─────────────────┘
//	               │ Peer.Send (non-blocking)          │ Observer.Observe
//	               ▼                                   ▼
//	┌──────────────────────┐            ┌──────────────────────────────┐
//	│  WebSocket transport │            │ metrics · influx · mqtt      │
//	│     (internal/api)   │            │ (after the lock is released) │
//	└──────────────────────┘            └──────────────────────────────┘
//
// # Wire Protocol
//
// Every message is a JSON object {"type": <kind>, "data": <any>}:
//
//	availability   server → controller   [{id, createdAt, role}, ...]
//	pairRequest    controller → server   target device id
//	paired         server → both         {controllerId, deviceId}
//	pairError      server → requester    reason
//	unpairRequest  either → server       (none)
//	unpaired       server → both         reason
//	relay          either ↔ partner      opaque, forwarded verbatim
//	error          server → sender       reason
//
// # Invariants
//
//   - Pairing is symmetric: A.Partner == B.ID iff B.Partner == A.ID.
//   - A connection has at most one partner; a pair is one controller and
//     one device.
//   - Id, role and creation time never change after registration.
//   - Availability is published exactly once after every transition that can
//     change the unpaired set.
//
// # Usage
//
//	engine := pairing.NewEngine(pairing.Options{Logger: log})
//
//	conn, err := engine.Connect(pairing.RoleController, client)
//	if err != nil {
//	    return err
//	}
//	defer engine.Disconnect(conn.ID)
//
//	for frame := range frames {
//	    _ = engine.HandleMessage(conn.ID, frame)
//	}
package pairing
