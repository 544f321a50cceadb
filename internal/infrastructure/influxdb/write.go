package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the sync journal.
const (
	MeasurementStoreWrite   = "config_store_write"
	MeasurementConnectivity = "wifi_connectivity"
)

// RecordStoreWrite journals one store operation of a config save: which
// store, whether it succeeded, how many attempts it took and how long.
// Writes are dropped silently while disconnected.
func (c *Client) RecordStoreWrite(deviceID, store, op string, attempts int, elapsed time.Duration, err error) {
	if !c.IsConnected() {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	fields := map[string]interface{}{
		"attempts":    attempts,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementStoreWrite,
		map[string]string{
			"device_id": deviceID,
			"store":     store,
			"op":        op,
			"outcome":   outcome,
		},
		fields,
		time.Now(),
	))
}

// RecordConnectivity journals the result of a post-save Wi-Fi probe.
func (c *Client) RecordConnectivity(deviceID string, confirmed bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementConnectivity,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"confirmed": confirmed},
		time.Now(),
	))
}
