package msodump

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOutOfBounds      = errors.New("read out of bounds")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidHeader    = errors.New("invalid header")
	ErrCorruptChain     = errors.New("corrupt sector chain")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrNoRootStorage    = errors.New("no root storage")
	ErrCorruptStream    = errors.New("corrupt compressed stream")
)

// OutOfBoundsError is returned by Cursor reads that run past the end
// of the buffer. It matches ErrOutOfBounds.
type OutOfBoundsError struct {
	Offset    int
	Requested int
	Available int
}

func (self *OutOfBoundsError) Error() string {
	return fmt.Sprintf("read out of bounds at offset %d: requested %d bytes, %d available",
		self.Offset, self.Requested, self.Available)
}

func (self *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
