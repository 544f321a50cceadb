// Package mqtt connects the dispenser core to the MQTT broker that device
// firmware listens on.
//
// Each device's real-time configuration is a retained JSON document on
// dispenser/devices/{deviceID}/config. Writing publishes a new retained
// document; reading subscribes briefly and takes the retained copy the broker
// hands out. Firmware publishes to the same topic when it reports fields such
// as its Wi-Fi connection state.
//
// The client reconnects automatically and restores tracked subscriptions.
// A Last Will on dispenser/system/status marks the service offline if it
// disappears without closing.
package mqtt
