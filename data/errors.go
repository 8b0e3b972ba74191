package data

import "errors"

var (
	ErrCorruptPage        = errors.New("log page checksum mismatch, page maybe corrupted")
	ErrUnexpectedEndOfLog = errors.New("read past the last written log position")
	ErrInvalidPageSize    = errors.New("invalid log page size")
	ErrShortPage          = errors.New("buffer is shorter than a log page")
	ErrInvalidLogHeader   = errors.New("invalid log header, magic mismatch")
	ErrShortFixedPart     = errors.New("buffer is shorter than the record fixed part")
	ErrNotRedoKind        = errors.New("record kind carries no redo fixed part")
)
