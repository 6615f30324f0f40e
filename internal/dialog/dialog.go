// Package dialog implements the per-account conversation state machine that
// manages digest groups and their sources.
package dialog

import (
	"time"
)

// State is the step of a pending dialogue.
type State int

const (
	StateIdle State = iota
	StateAwaitGroupName
	StateAwaitGroupSelection
	StateAwaitSourceHandle
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitGroupName:
		return "AWAIT_GROUP_NAME"
	case StateAwaitGroupSelection:
		return "AWAIT_GROUP_SELECTION"
	case StateAwaitSourceHandle:
		return "AWAIT_SOURCE_HANDLE"
	default:
		return "UNKNOWN"
	}
}

// Dialog is the transient data of one account's dialogue.
type Dialog struct {
	State State
	// Groups maps a selection index to a group name while awaiting a selection.
	Groups []string
	// Target is the group a source is being added to.
	Target    string
	UpdatedAt time.Time
}

// Event is one inbound user event: either free text or a button press
// carrying an action token.
type Event struct {
	AccountID   int64
	DisplayName string
	Text        string
	Action      string
}

// IsAction reports whether the event is a button press.
func (e Event) IsAction() bool { return e.Action != "" }

// Button is an inline keyboard button.
type Button struct {
	Label  string
	Action string
}

// Response is the single outbound reply to an event.
type Response struct {
	Text    string
	Buttons [][]Button
}

// ValidationError reports malformed user input or an unusable selection.
// The dialogue stays where it was so the user can try again.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) error { return &ValidationError{Reason: reason} }
