package topology

import "errors"

var (
	ErrMalformedRecord = errors.New("malformed topology record")
	ErrInvalidSlot     = errors.New("slot out of range")
)
