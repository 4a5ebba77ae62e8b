// Package influxdb records cell telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The Client
// implements the telemetry recorders of the plc, ingress and sensor
// packages, so every coil and register write, every method call and every
// sensor edge becomes a point tagged with the cell id.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Cell.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Writes never fail the caller. Batch errors are delivered to the
// callback set with SetOnError. Connection and health check errors are
// returned directly.
package influxdb
