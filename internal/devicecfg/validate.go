package devicecfg

import (
	"fmt"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/provisioning"
)

// Wi-Fi credential limits (IEEE 802.11 SSID, WPA2 passphrase).
const (
	MaxSSIDLength         = 32
	MinWiFiPasswordLength = 8
	MaxWiFiPasswordLength = 63
)

func invalid(field, format string, args ...any) error {
	return &provisioning.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateUpdate checks the device id and every field present in u.
func ValidateUpdate(deviceID string, u Update) error {
	if err := claim.ValidateFormat(deviceID); err != nil {
		return err
	}
	if u.AlarmMode != nil && !u.AlarmMode.Valid() {
		return invalid("alarmMode", "Alarm mode must be one of off, sound, led or both")
	}
	if u.LEDIntensity != nil && (*u.LEDIntensity < 0 || *u.LEDIntensity > MaxLEDIntensity) {
		return invalid("ledIntensity", "LED intensity must be between 0 and %d", MaxLEDIntensity)
	}
	if u.LEDColor != nil && !u.LEDColor.Valid() {
		return invalid("ledColor", "LED colour components must be between 0 and %d", MaxColorComponent)
	}
	return nil
}

// ValidateWiFi checks network credentials. An empty password selects an
// open network.
func ValidateWiFi(ssid, password string) error {
	if ssid == "" {
		return invalid("wifiSSID", "Network name is required")
	}
	if len(ssid) > MaxSSIDLength {
		return invalid("wifiSSID", "Network name must be at most %d bytes", MaxSSIDLength)
	}
	if password != "" && (len(password) < MinWiFiPasswordLength || len(password) > MaxWiFiPasswordLength) {
		return invalid("wifiPassword", "Password must be %d to %d characters", MinWiFiPasswordLength, MaxWiFiPasswordLength)
	}
	return nil
}
