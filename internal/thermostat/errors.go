package thermostat

import "errors"

var (
	ErrInvalidMode                    = errors.New("invalid mode")
	ErrInvalidHeatingType             = errors.New("invalid heating type")
	ErrInvalidSetpoint                = errors.New("invalid temperature setpoint")
	ErrInvalidMinMax                  = errors.New("invalid min/max setpoints")
	ErrSetpointOutOfRange             = errors.New("setpoint out of range")
	ErrInvalidTolerance               = errors.New("tolerances must be greater or equal to zero")
	ErrInvalidOutputRange             = errors.New("output max must be strictly greater than output min")
	ErrorInvalidRegulatorCoefficients = errors.New("Regulation PID coefficients must be greater or equal to zero")
	ErrNegativeHeatLossCoefficient    = errors.New("heat loss coefficient must be greater or equal to zero")
	ErrNegativeHeaterPower            = errors.New("heater power must be greater or equal to zero")
)
