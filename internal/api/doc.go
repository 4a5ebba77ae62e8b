// Package api provides the HTTP REST API and WebSocket push for the cell
// controller.
//
// It exposes the node registry, the method table, the conveyor control
// state and the event log to HMIs and the web tier:
//
//	GET  /api/v1/health
//	GET  /api/v1/nodes, /api/v1/nodes/{id}
//	GET  /api/v1/methods
//	POST /api/v1/methods/{name}
//	GET  /api/v1/control/state
//	POST /api/v1/control/move
//	GET  /api/v1/events[?format=msgpack]
//	GET  /api/v1/ws?token=...
//
// Everything except /health requires a bearer token (see package auth).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
