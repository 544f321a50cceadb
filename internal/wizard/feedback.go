package wizard

import "fmt"

// Haptic is a kind of tactile feedback.
type Haptic string

// Haptic feedback kinds.
const (
	HapticSelection Haptic = "selection"
	HapticSuccess   Haptic = "success"
	HapticWarning   Haptic = "warning"
	HapticError     Haptic = "error"
)

// Announcer speaks short messages to assistive technology. Calls are fire
// and forget.
type Announcer interface {
	Announce(message string)
}

// HapticEmitter plays tactile feedback. Calls are fire and forget.
type HapticEmitter interface {
	Emit(kind Haptic)
}

type noopFeedback struct{}

func (noopFeedback) Announce(string) {}
func (noopFeedback) Emit(Haptic)     {}

// StepAnnouncement is the text announced on entering step.
func StepAnnouncement(step Step) string {
	return fmt.Sprintf("Step %d of %d: %s", int(step)+1, TotalSteps, step.Label())
}

// EventType identifies a controller event.
type EventType string

// Controller events.
const (
	EventStepChanged   EventType = "step_changed"
	EventValidation    EventType = "validation"
	EventResumeOffered EventType = "resume_offered"
	EventExitConfirm   EventType = "exit_confirmation_required"
	EventExited        EventType = "exited"
	EventCompleted     EventType = "completed"
	EventSaveResult    EventType = "save_result"
	EventError         EventType = "error"
)

// Event is published to controller listeners after every state change.
type Event struct {
	Type    EventType `json:"type"`
	Step    string    `json:"step"`
	Message string    `json:"message,omitempty"`
	Haptic  Haptic    `json:"haptic,omitempty"`
	State   State     `json:"state"`
}
