package devicecfg

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// AlarmMode is how the device signals a due dose.
type AlarmMode string

// Device alarm modes.
const (
	AlarmOff   AlarmMode = "off"
	AlarmSound AlarmMode = "sound"
	AlarmLED   AlarmMode = "led"
	AlarmBoth  AlarmMode = "both"
)

// Valid reports whether m is a device alarm mode.
func (m AlarmMode) Valid() bool {
	switch m {
	case AlarmOff, AlarmSound, AlarmLED, AlarmBoth:
		return true
	}
	return false
}

// UIAlarmMode is the alarm choice offered in the wizard.
type UIAlarmMode string

// Wizard alarm choices.
const (
	UIAlarmSound   UIAlarmMode = "sound"
	UIAlarmVibrate UIAlarmMode = "vibrate"
	UIAlarmBoth    UIAlarmMode = "both"
	UIAlarmSilent  UIAlarmMode = "silent"
)

// DeviceMode maps a wizard choice to the device alarm mode. The device has no
// vibration motor; "vibrate" becomes the LED-only mode.
func (m UIAlarmMode) DeviceMode() (AlarmMode, error) {
	switch m {
	case UIAlarmSound:
		return AlarmSound, nil
	case UIAlarmVibrate:
		return AlarmLED, nil
	case UIAlarmBoth:
		return AlarmBoth, nil
	case UIAlarmSilent:
		return AlarmOff, nil
	}
	return "", fmt.Errorf("unknown alarm mode %q", string(m))
}

// UIMode is the inverse of UIAlarmMode.DeviceMode.
func (m AlarmMode) UIMode() UIAlarmMode {
	switch m {
	case AlarmSound:
		return UIAlarmSound
	case AlarmLED:
		return UIAlarmVibrate
	case AlarmOff:
		return UIAlarmSilent
	default:
		return UIAlarmBoth
	}
}

// Ranges of the device and wizard scales.
const (
	MaxLEDIntensity   = 1023
	MaxUIIntensity    = 100
	MaxColorComponent = 255
)

// IntensityToDevice converts a 0..100 wizard value to the 0..1023 device scale.
func IntensityToDevice(ui int) int {
	return int(math.Round(float64(ui) / MaxUIIntensity * MaxLEDIntensity))
}

// IntensityToUI converts a device intensity to the 0..100 wizard scale.
func IntensityToUI(device int) int {
	return int(math.Round(float64(device) / MaxLEDIntensity * MaxUIIntensity))
}

// RGB is an LED colour. Components are ints so out-of-range input can be
// reported rather than wrapped.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// White is the default LED colour.
var White = RGB{R: 255, G: 255, B: 255}

// Valid reports whether every component is within 0..255.
func (c RGB) Valid() bool {
	in := func(v int) bool { return v >= 0 && v <= MaxColorComponent }
	return in(c.R) && in(c.G) && in(c.B)
}

// Hex formats c as "#RRGGBB" in upper case.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHex parses "#RRGGBB", "RRGGBB" or the "#RGB" shorthand, in any case.
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid colour %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return RGB{R: int(v >> 16 & 0xFF), G: int(v >> 8 & 0xFF), B: int(v & 0xFF)}, nil
}

// SyncStatus tracks whether the real-time document reflects the durable record.
type SyncStatus string

// Sync states.
const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Update is a partial configuration. Nil fields are left untouched.
type Update struct {
	AlarmMode    *AlarmMode `json:"alarmMode,omitempty"`
	LEDIntensity *int       `json:"ledIntensity,omitempty"`
	LEDColor     *RGB       `json:"ledColor,omitempty"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.AlarmMode == nil && u.LEDIntensity == nil && u.LEDColor == nil
}

// Preferences are the wizard's behaviour settings on the wizard's scales.
type Preferences struct {
	AlarmMode    UIAlarmMode `json:"alarmMode"`
	LEDIntensity int         `json:"ledIntensity"`
	LEDColor     string      `json:"ledColor"`
}

// Update converts wizard preferences to a device-scale update.
func (p Preferences) Update() (Update, error) {
	mode, err := p.AlarmMode.DeviceMode()
	if err != nil {
		return Update{}, err
	}
	if p.LEDIntensity < 0 || p.LEDIntensity > MaxUIIntensity {
		return Update{}, fmt.Errorf("LED intensity %d out of range 0-%d", p.LEDIntensity, MaxUIIntensity)
	}
	color, err := ParseHex(p.LEDColor)
	if err != nil {
		return Update{}, err
	}
	intensity := IntensityToDevice(p.LEDIntensity)
	return Update{AlarmMode: &mode, LEDIntensity: &intensity, LEDColor: &color}, nil
}

// Record is the durable configuration row. Nil fields were never written.
type Record struct {
	DeviceID       string
	AlarmMode      *AlarmMode
	LEDIntensity   *int
	LEDColor       *RGB
	WiFiConfigured *bool
	WiFiSSID       *string
	SyncStatus     SyncStatus
	UpdatedBy      string
	CreatedAt      time.Time
	LastUpdated    time.Time
}

// Defaults for fields a record does not carry.
const (
	DefaultAlarmMode    = AlarmBoth
	DefaultLEDIntensity = 512
)

// DeviceConfig is a device's configuration with defaults filled in.
type DeviceConfig struct {
	DeviceID       string     `json:"deviceId"`
	AlarmMode      AlarmMode  `json:"alarmMode"`
	LEDIntensity   int        `json:"ledIntensity"`
	LEDColor       RGB        `json:"ledColor"`
	WiFiConfigured bool       `json:"wifiConfigured"`
	WiFiSSID       string     `json:"wifiSSID,omitempty"`
	SyncStatus     SyncStatus `json:"syncStatus,omitempty"`
	LastUpdated    *time.Time `json:"lastUpdated,omitempty"`
	// Found is false when no durable record exists yet.
	Found bool `json:"found"`
}

// Preferences expresses c on the wizard's scales, for prefilling a form.
func (c DeviceConfig) Preferences() Preferences {
	return Preferences{
		AlarmMode:    c.AlarmMode.UIMode(),
		LEDIntensity: IntensityToUI(c.LEDIntensity),
		LEDColor:     c.LEDColor.Hex(),
	}
}

// withDefaults builds a DeviceConfig from rec, which may be nil.
func withDefaults(deviceID string, rec *Record) DeviceConfig {
	cfg := DeviceConfig{
		DeviceID:     deviceID,
		AlarmMode:    DefaultAlarmMode,
		LEDIntensity: DefaultLEDIntensity,
		LEDColor:     White,
	}
	if rec == nil {
		return cfg
	}

	cfg.Found = true
	cfg.SyncStatus = rec.SyncStatus
	if !rec.LastUpdated.IsZero() {
		t := rec.LastUpdated
		cfg.LastUpdated = &t
	}
	if rec.AlarmMode != nil {
		cfg.AlarmMode = *rec.AlarmMode
	}
	if rec.LEDIntensity != nil {
		cfg.LEDIntensity = *rec.LEDIntensity
	}
	if rec.LEDColor != nil {
		cfg.LEDColor = *rec.LEDColor
	}
	if rec.WiFiConfigured != nil {
		cfg.WiFiConfigured = *rec.WiFiConfigured
	}
	if rec.WiFiSSID != nil {
		cfg.WiFiSSID = *rec.WiFiSSID
	}
	return cfg
}

// Document is the real-time config document. Values are kept raw so fields
// written by firmware pass through a merge byte for byte.
type Document map[string]json.RawMessage

// Real-time document fields.
const (
	FieldAlarmMode        = "alarm_mode"
	FieldLEDIntensity     = "led_intensity"
	FieldLEDColor         = "led_color"
	FieldWiFiSSID         = "wifi_ssid"
	FieldWiFiPassword     = "wifi_password" //nolint:gosec // field name, not a credential
	FieldWiFiConfigured   = "wifi_configured"
	FieldWiFiConfiguredAt = "wifi_configured_at"

	// FieldWiFiConnected is written by firmware once it has joined the network.
	FieldWiFiConnected = "wifi_connected"
)

// Set encodes v into field.
func (d Document) Set(field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", field, err)
	}
	d[field] = raw
	return nil
}

// Bool decodes a boolean field. Missing or non-boolean values read as false.
func (d Document) Bool(field string) bool {
	var b bool
	if raw, ok := d[field]; ok {
		_ = json.Unmarshal(raw, &b) //nolint:errcheck // non-boolean reads as false
	}
	return b
}

// ConfigPath is the real-time path of a device's config document.
func ConfigPath(deviceID string) string {
	return "devices/" + deviceID + "/config"
}
