package index

import "errors"

var (
	ErrUnsupportedIndexType = errors.New("unsupported index type")
	ErrOpenBPlusTree        = errors.New("failed to open bptree")
)
