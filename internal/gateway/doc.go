// Package gateway bridges the cell's node registry and method table onto
// the MQTT bus.
//
// Outbound, every node change is published retained on
// cell/{cell_id}/node/{node}, inspection verdicts on cell/{cell_id}/anomaly,
// and health on cell/{cell_id}/health. Inbound, a payload on
// cell/{cell_id}/method/{name} invokes the method and its result goes to
// cell/{cell_id}/result/{name}; a message on cell/{cell_id}/control/move
// requests a manual conveyor start.
//
// Registry listeners never publish directly: changes are queued and a
// single publisher goroutine drains the queue, so a slow broker cannot
// stall the writers.
package gateway
