package algo

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the core did not halt within the poll budget.
var ErrTimeout = errors.New("flash algorithm timed out")

// StatusError indicates that the algorithm halted with a non-zero result.
// The code is specific to the algorithm and not interpreted here.
type StatusError struct {
	Entry  Entry
	Status uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("flash algorithm %s failed: status 0x%X", e.Entry, e.Status)
}
