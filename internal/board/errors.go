package board

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrEndBeforeStart   = errors.New("end date is earlier than start date")
	ErrCapacityExceeded = errors.New("assignment exceeds member availability")
	ErrTaskNotFound     = errors.New("task not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrPeriodMismatch   = errors.New("period id does not match its dates")
	ErrUnknownAction    = errors.New("unknown action")
	ErrMalformedCommand = errors.New("malformed command")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrEmptyName        = errors.New("name must not be blank")
)

// UnknownActionError carries the unrecognised action tag.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

func (e *UnknownActionError) Unwrap() error {
	return ErrUnknownAction
}
