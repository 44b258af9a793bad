package terminals

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("maximum number of terminals reached")
	ErrNotFound         = errors.New("terminal not found")
	ErrUnauthorized     = errors.New("invalid or missing callback token")
	ErrValidation       = errors.New("invalid request")
	ErrInvalidState     = errors.New("terminal is not in a valid state for this operation")
	ErrExpired          = errors.New("terminal has expired")
	ErrNoDriver         = errors.New("no container backend available")
	ErrDriver           = errors.New("container backend error")
)

func validationError(field, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, msg)
}
