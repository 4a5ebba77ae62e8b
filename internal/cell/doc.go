// Package cell assembles the cell controller from its parts and runs it.
//
// New opens the infrastructure connections (SQLite, Modbus, MQTT, InfluxDB)
// in dependency order and builds the domain components on top. Run connects
// the PLC link, attaches the registry watchers, starts the HTTP API and runs
// the polling producers under one errgroup until the context ends or one of
// them fails. Close releases the connections in reverse order.
//
// Usage:
//
//	c, err := cell.New(cfg, log, version)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	return c.Run(ctx)
package cell
