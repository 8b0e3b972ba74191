package walredo

import (
	"errors"

	"walredo/data"
)

var (
	ErrCorruptPage        = data.ErrCorruptPage
	ErrUnexpectedEndOfLog = data.ErrUnexpectedEndOfLog

	ErrRedoPastTarget     = errors.New("redo position is past the durable position")
	ErrInvalidForwardLink = errors.New("record forward link does not move the redo position forward")
	ErrUnknownRcvIndex    = errors.New("no redo function registered for the record index")
	ErrReplicatorClosed   = errors.New("replicator is closed")
	ErrNullStartPosition  = errors.New("replication start position is null")
	ErrPayloadTooLong     = errors.New("record payload is longer than the record itself")

	ErrDirPathIsEmpty         = errors.New("replica dir path is empty")
	ErrLogNameIsEmpty         = errors.New("log volume name is empty")
	ErrInvalidReplayInterval  = errors.New("replay interval must be greater than 0")
	ErrInvalidPollInterval    = errors.New("header poll interval must not be negative")
	ErrInvalidUnzipBufferSize = errors.New("unzip buffer size must not be negative")
	ErrDatabaseIsUsing        = errors.New("the replica directory is used by another process")
	ErrPageNotFound           = errors.New("page not found in replica")
)
