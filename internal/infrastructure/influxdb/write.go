package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCoil     = "plc_coil"
	MeasurementRegister = "plc_register"
	MeasurementCommand  = "cell_command"
	MeasurementSensor   = "sensor_edge"
)

// RecordCoil writes one coil write. Implements plc.Recorder.
func (c *Client) RecordCoil(name string, addr uint16, on bool, err error) {
	c.writePoint(MeasurementCoil,
		map[string]string{"coil": name, "ok": okTag(err)},
		map[string]any{"addr": int64(addr), "value": on},
	)
}

// RecordRegister writes one register write. Implements plc.Recorder.
func (c *Client) RecordRegister(name string, addr uint16, value uint16, err error) {
	c.writePoint(MeasurementRegister,
		map[string]string{"register": name, "ok": okTag(err)},
		map[string]any{"addr": int64(addr), "value": int64(value)},
	)
}

// RecordCommand writes one method invocation. Implements ingress.Recorder.
func (c *Client) RecordCommand(name string, success bool, code int32, elapsed time.Duration) {
	c.writePoint(MeasurementCommand,
		map[string]string{"command": name},
		map[string]any{"success": success, "code": int64(code), "elapsed_ms": float64(elapsed) / float64(time.Millisecond)},
	)
}

// RecordEdge writes one sensor edge. Implements sensor.Recorder.
func (c *Client) RecordEdge(input string, high bool) {
	c.writePoint(MeasurementSensor,
		map[string]string{"input": input},
		map[string]any{"high": high},
	)
}

// WritePoint writes a custom point tagged with the cell id.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	all["cell_id"] = c.cellID

	c.writer.WritePoint(write.NewPoint(measurement, all, fields, c.now()))
}

func okTag(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}
