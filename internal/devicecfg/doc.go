// Package devicecfg keeps a dispenser's configuration in two stores.
//
// The durable store (SQLite, table device_configs) is authoritative. The
// real-time store is the JSON document at devices/{id}/config that device
// firmware reads and partly writes back, served either as a retained MQTT
// message or a Redis key. There is no transaction across the two. A save
// first merges into the durable record (phase 1) and then merges the changed
// real-time fields into the device document (phase 2). A phase 2 failure is
// reported as a partial save, and the durable record stays pending.
//
// The real-time document is never overwritten wholesale. Fields the firmware
// owns, such as wifi_connected, survive every save.
//
// Field names of Record and of the real-time document are the wire contract
// with firmware.
package devicecfg
