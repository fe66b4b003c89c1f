package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the PMS client, cache and API layers
var (
	ErrAuth           = errors.New("pms authentication failed")
	ErrPMSTransport   = errors.New("pms transport error")
	ErrPMSResponse    = errors.New("pms response error")
	ErrValidation     = errors.New("validation error")
	ErrCache          = errors.New("cache error")
	ErrPMSUnavailable = errors.New("pms unavailable")

	ErrBookingNotFound  = errors.New("booking not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomNotBookable  = errors.New("room is not bookable for the requested stay")
	ErrBookingNotActive = errors.New("booking is not active")
	ErrTooManyGuests    = errors.New("too many guests for room")
)

// AttemptError describes one failed endpoint attempt
type AttemptError struct {
	Endpoint string
	Kind     error // ErrAuth, ErrPMSTransport or ErrPMSResponse
	Status   int   // HTTP status, 0 when no response
	Err      error
}

func (e *AttemptError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s endpoint: %v (status %d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s endpoint: %v: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ExhaustedError is returned when every endpoint of the cascade failed
type ExhaustedError struct {
	Room     RoomKey
	Attempts []*AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("%v for room %s: %s", ErrPMSUnavailable, e.Room, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, ErrPMSUnavailable)
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}
