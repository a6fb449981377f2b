package state

import "errors"

var (
	ErrInvalidDocument    = errors.New("invalid state document")
	ErrUnsupportedVersion = errors.New("unsupported state document version")
	ErrUnsupportedDriver  = errors.New("unsupported store driver")
)
