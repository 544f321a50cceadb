package mqtt

// TopicPrefix is the root of every dispenser topic.
const TopicPrefix = "dispenser"

// Topics provides builders for dispenser MQTT topics.
//
//	dispenser/devices/{deviceID}/config   retained real-time config document
//	dispenser/system/status               service online/offline (retained, LWT)
type Topics struct{}

// Path maps a real-time store path such as "devices/abc/config" to its topic.
func (Topics) Path(path string) string {
	return TopicPrefix + "/" + path
}

// DeviceConfig returns the retained config topic for a device.
func (t Topics) DeviceConfig(deviceID string) string {
	return t.Path("devices/" + deviceID + "/config")
}

// SystemStatus returns the service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
