// Package influxdb writes the configuration sync journal to InfluxDB.
//
// Every device config save performs two independent writes. The journal
// keeps one point per store write (durable or real-time, outcome, attempts,
// latency) and one per Wi-Fi connectivity probe, so partial saves and devices
// that never confirm their network can be found after the fact.
//
// The journal is optional. Connect returns ErrDisabled when influxdb.enabled
// is false, and all write methods are no-ops on a disconnected client.
//
//	journal, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil && !errors.Is(err, influxdb.ErrDisabled) {
//	    return err
//	}
//	defer journal.Close()
package influxdb
