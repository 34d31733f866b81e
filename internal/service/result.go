package service

import (
	"fmt"

	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// Result is the outcome of a processed trigger. ENTER/LEAVE results are bit
// sets so that callers can test FlagActionsToggled independently of direction.
type Result uint8

const (
	FlagEnter Result = 1 << iota
	FlagLeave
	FlagActionsToggled
	ResultTriggerDeviceDisconnected
)

const (
	ResultEnterAddedWithoutActionsToggled = FlagEnter
	ResultLeaveAddedWithoutActionsToggled = FlagLeave
	ResultEnterAdded                      = FlagEnter | FlagActionsToggled
	ResultLeaveAdded                      = FlagLeave | FlagActionsToggled
)

// ActionsToggled reports whether toggle commands were emitted
func (r Result) ActionsToggled() bool {
	return r&FlagActionsToggled != 0
}

func (r Result) String() string {
	switch r {
	case ResultTriggerDeviceDisconnected:
		return "TRIGGER_DEVICE_DISCONNECTED"
	case ResultEnterAddedWithoutActionsToggled:
		return "ENTER_ADDED_WITHOUT_ACTIONS_TOGGLED"
	case ResultLeaveAddedWithoutActionsToggled:
		return "LEAVE_ADDED_WITHOUT_ACTIONS_TOGGLED"
	case ResultEnterAdded:
		return "ENTER_ADDED"
	case ResultLeaveAdded:
		return "LEAVE_ADDED"
	default:
		return fmt.Sprintf("RESULT(%d)", uint8(r))
	}
}

func resultFor(t db.TriggerType, toggled bool) Result {
	r := FlagEnter
	if t == db.TriggerLeave {
		r = FlagLeave
	}
	if toggled {
		r |= FlagActionsToggled
	}
	return r
}

// Direction is an optional explicit transition supplied by the trigger device
type Direction int

const (
	DirectionUnspecified Direction = iota
	DirectionEnter
	DirectionLeave
)

// TriggerType returns the ledger type of an explicit direction
func (d Direction) TriggerType() (db.TriggerType, bool) {
	switch d {
	case DirectionEnter:
		return db.TriggerEnter, true
	case DirectionLeave:
		return db.TriggerLeave, true
	default:
		return "", false
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionEnter:
		return "ENTER"
	case DirectionLeave:
		return "LEAVE"
	default:
		return "UNSPECIFIED"
	}
}
