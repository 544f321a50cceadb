package wizard

// Step is a wizard state.
type Step int

// Wizard steps in order. StepComplete is terminal.
const (
	StepWelcome Step = iota
	StepDeviceID
	StepVerify
	StepWiFi
	StepPreferences
	StepComplete
)

// TotalSteps is the number of wizard steps.
const TotalSteps = int(StepComplete) + 1

var stepNames = [...]string{"WELCOME", "DEVICE_ID", "VERIFY", "WIFI", "PREFERENCES", "COMPLETE"}

var stepLabels = [...]string{
	"Welcome",
	"Enter device ID",
	"Verify device",
	"Connect to Wi-Fi",
	"Alarm preferences",
	"All set",
}

// String returns the step's state name.
func (s Step) String() string {
	if !s.Valid() {
		return "UNKNOWN"
	}
	return stepNames[s]
}

// Label returns the human-readable step title.
func (s Step) Label() string {
	if !s.Valid() {
		return ""
	}
	return stepLabels[s]
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s >= StepWelcome && s <= StepComplete
}

// Terminal reports whether no transition leaves s.
func (s Step) Terminal() bool {
	return s == StepComplete
}
