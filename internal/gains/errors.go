package gains

import "errors"

var (
	ErrHistoryEmpty           = errors.New("pid history is empty")
	ErrHistoryIndexOutOfRange = errors.New("pid history index out of range")
	ErrInvalidHistory         = errors.New("invalid pid history document")
)
