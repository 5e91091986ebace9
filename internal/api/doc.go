// Package api implements the HTTP and WebSocket surface of the pairing relay.
//
// This package provides:
//   - The WebSocket endpoint (default /ws) where controllers and devices connect
//   - Per-connection read/write pumps that bridge sockets to the pairing engine
//   - Read-only operator endpoints for health, connections and availability
//   - Prometheus exposition when a metrics handler is supplied
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Connecting
//
// The role is passed as a query parameter and checked before the upgrade:
//
//	ws://host:8080/ws?role=controller
//	ws://host:8080/ws?role=device
//
// The legacy parameter name clientType and the legacy values user (controller)
// and robot (device) are also accepted. A missing or unknown role is rejected
// with 400 Bad Request.
//
// # Delivery
//
// Each connection owns a bounded outbound queue drained by its write pump.
// The engine enqueues without blocking; when a queue is full the message is
// dropped for that connection only and the drop is logged.
package api
