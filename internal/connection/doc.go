// Package connection keeps the cell's links up.
//
// Retry runs a connect attempt under a fixed-delay policy and gives up with
// ErrRetriesExhausted. Monitor probes an established link on an interval
// and reconnects through Retry when the probe fails; if reconnection is
// exhausted, Run returns the error so the controller stops instead of
// running blind.
//
// Thread Safety:
//   - Retry is stateless.
//   - Monitor.Run must be called once; Stats is safe from any goroutine.
package connection
