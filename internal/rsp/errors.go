package rsp

import "fmt"

// RemoteError is an "Enn" reply from the remote side.
type RemoteError struct {
	Request string
	Code    byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error E%02X (%s) for %q", e.Code, ErrorMessage(e.Code), e.Request)
}

// ErrorMessage returns a human-readable message for common error codes.
func ErrorMessage(code byte) string {
	switch code {
	case 0x01:
		return "operation not permitted"
	case 0x02:
		return "no such target"
	case 0x05:
		return "I/O error"
	case 0x16:
		return "invalid argument"
	default:
		return "unknown error"
	}
}
