package appointment

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "mark_no_show"
)

type rule struct {
	from []AppointmentStatus
	to   AppointmentStatus
}

var lifecycle = map[Action]rule{
	ActionConfirm:  {from: []AppointmentStatus{StatusPending}, to: StatusConfirmed},
	ActionCancel:   {from: []AppointmentStatus{StatusPending, StatusConfirmed}, to: StatusCancelled},
	ActionComplete: {from: []AppointmentStatus{StatusConfirmed}, to: StatusCompleted},
	ActionNoShow:   {from: []AppointmentStatus{StatusConfirmed}, to: StatusNoShow},
}

// Transition returns the status an appointment in from moves to when action
// is applied, or ErrInvalidTransition.
func Transition(from AppointmentStatus, action Action) (AppointmentStatus, error) {
	r, ok := lifecycle[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s a %s appointment", ErrInvalidTransition, action, from)
}
