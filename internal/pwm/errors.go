package pwm

import "errors"

var (
	ErrInvalidPeriod    = errors.New("pwm period must be strictly positive")
	ErrNegativeDuration = errors.New("pwm durations must be greater or equal to zero")
	ErrInvalidOutputMax = errors.New("pwm output max must be strictly positive")
	ErrMissingActuator  = errors.New("pwm controller requires an actuator")
)
