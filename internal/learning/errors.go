package learning

import "errors"

var ErrInvalidConfig = errors.New("invalid learning configuration")
