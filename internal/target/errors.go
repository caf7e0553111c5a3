package target

import "fmt"

// ShortReadError indicates that the transport returned fewer bytes than requested.
type ShortReadError struct {
	Addr uint32
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read at 0x%08X: want %d bytes, got %d", e.Addr, e.Want, e.Got)
}
