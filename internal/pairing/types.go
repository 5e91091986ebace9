package pairing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role classifies a connection. It is supplied by the peer at connect time
// and never changes afterwards.
type Role string

// Role constants.
const (
	// RoleController discovers devices and requests pairing.
	RoleController Role = "controller"

	// RoleDevice is discovered by controllers and paired with.
	RoleDevice Role = "device"
)

// Legacy role names still sent by older clients.
const (
	legacyRoleUser  = "user"
	legacyRoleRobot = "robot"
)

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	return r == RoleController || r == RoleDevice
}

// ParseRole converts a connect parameter into a Role.
//
// Matching is case-insensitive. The legacy names "user" (controller) and
// "robot" (device) are accepted.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleController), legacyRoleUser:
		return RoleController, nil
	case string(RoleDevice), legacyRoleRobot:
		return RoleDevice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// State is the pairing state of a single connection.
type State string

// State constants.
const (
	StateUnpaired State = "unpaired"
	StatePaired   State = "paired"
)

// Peer is the outbound side of a live transport.
//
// Send must not block: implementations enqueue the encoded message and
// return ErrSendQueueFull or ErrPeerClosed when it cannot be accepted.
// The engine calls Send while holding its transition lock.
type Peer interface {
	Send(data []byte) error
}

// Connection is one live network peer.
//
// Values returned by the Registry are snapshots. Partner holds the id of the
// paired connection (empty when unpaired) and must always be resolved back
// through the Registry.
type Connection struct {
	ID        string
	CreatedAt time.Time
	Role      Role
	Partner   string

	peer Peer
}

// NewConnection builds an unpaired connection record bound to peer.
func NewConnection(id string, role Role, createdAt time.Time, peer Peer) Connection {
	return Connection{
		ID:        id,
		CreatedAt: createdAt,
		Role:      role,
		peer:      peer,
	}
}

// Paired reports whether the connection currently has a partner.
func (c Connection) Paired() bool {
	return c.Partner != ""
}

// State returns the connection's pairing state.
func (c Connection) State() State {
	if c.Paired() {
		return StatePaired
	}
	return StateUnpaired
}

// Availability returns the wire representation used in availability payloads.
func (c Connection) Availability() AvailabilityEntry {
	return AvailabilityEntry{
		ID:        c.ID,
		CreatedAt: c.CreatedAt.UnixMilli(),
		Role:      c.Role,
	}
}

// NewID returns a fresh connection identifier.
//
// UUIDv7 is time-ordered, so identifiers sort by creation. If the v7
// generator fails a random v4 is used instead; both are unique for the
// lifetime of the process.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
