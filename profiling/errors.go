package profiling

import (
	"errors"
	"fmt"
)

var ErrUnmatchedEnd = errors.New("no active profiling section found")

// UnmatchedEndError is returned by End when no open section has the given
// ID. The state is left untouched when it is returned.
type UnmatchedEndError struct {
	ID string
}

func (e *UnmatchedEndError) Error() string {
	return fmt.Sprintf("%s for ID: %s", ErrUnmatchedEnd, e.ID)
}

func (e *UnmatchedEndError) Unwrap() error {
	return ErrUnmatchedEnd
}
