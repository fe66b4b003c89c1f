package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixBooking = "bkg_"
	PrefixRequest = "req_"
)

// NewBooking generates a new booking ID with bkg_ prefix
func NewBooking() string {
	return PrefixBooking + uuid.New().String()
}

// NewRequest generates a new request ID with req_ prefix
func NewRequest() string {
	return PrefixRequest + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
