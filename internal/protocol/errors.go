package protocol

import "errors"

var (
	ErrInvalidLength       = errors.New("protocol: invalid length prefix")
	ErrInstructionTooLarge = errors.New("protocol: instruction exceeds size limit")
	ErrBadSeparator        = errors.New("protocol: invalid element separator")
)
