package recovery

import "errors"

var (
	ErrDuplicateRcvIndex = errors.New("redo function already registered for this index")
	ErrNilRedoFunc       = errors.New("redo function is nil")
	ErrPageNotInit       = errors.New("redo target page was never initialized")
	ErrWriteOutOfPage    = errors.New("redo write exceeds the page size")
)
