package ke

import "errors"

var (
	ErrNoLearner        = errors.New("ke learner not configured")
	ErrLearnerDisabled  = errors.New("ke learner not enabled")
	ErrInsufficientData = errors.New("not enough ke observations")
	ErrNarrowRange      = errors.New("outdoor temperature range too narrow")
)
