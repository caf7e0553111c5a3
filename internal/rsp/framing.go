// Package rsp implements the GDB remote serial protocol packet format.
package rsp

import (
	"fmt"
	"strconv"
)

const (
	Start    = '$'
	End      = '#'
	Esc      = '}'
	Rle      = '*'
	Ack      = '+'
	Nak      = '-'
	Break    = 0x03
	EscXor   = 0x20
	sumChars = 2
)

// Checksum returns the modulo-256 sum of the (escaped) payload bytes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode wraps payload in a packet frame: $<escaped payload>#<checksum>.
func Encode(payload []byte) []byte {
	// Pre-allocate with some extra space for escapes
	body := make([]byte, 0, len(payload)+8)
	for _, b := range payload {
		switch b {
		case Start, End, Esc, Rle:
			body = append(body, Esc, b^EscXor)
		default:
			body = append(body, b)
		}
	}

	frame := make([]byte, 0, len(body)+4)
	frame = append(frame, Start)
	frame = append(frame, body...)
	frame = append(frame, End)
	frame = append(frame, fmt.Sprintf("%02x", Checksum(body))...)
	return frame
}

// Decode verifies the checksum of a frame and returns its unescaped payload.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2+sumChars || frame[0] != Start || frame[len(frame)-1-sumChars] != End {
		return nil, fmt.Errorf("malformed frame %q", frame)
	}

	body := frame[1 : len(frame)-1-sumChars]
	want, err := strconv.ParseUint(string(frame[len(frame)-sumChars:]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("bad checksum digits in %q", frame)
	}
	if got := Checksum(body); got != byte(want) {
		return nil, fmt.Errorf("checksum mismatch: frame says 0x%02x, payload sums to 0x%02x", want, got)
	}

	result := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch {
		case body[i] == Esc && i+1 < len(body):
			result = append(result, body[i+1]^EscXor)
			i++
		case body[i] == Rle && len(result) > 0 && i+1 < len(body):
			// Run-length: repeat the previous byte (count - 29) more times.
			n := int(body[i+1]) - 29
			last := result[len(result)-1]
			for j := 0; j < n; j++ {
				result = append(result, last)
			}
			i++
		default:
			result = append(result, body[i])
		}
	}
	return result, nil
}

// ReadFrame extracts the first complete frame from a byte stream.
// Returns the frame (from '$' through the checksum), the acknowledgement
// bytes seen before it, and the remaining bytes. A nil frame means more
// data is needed.
func ReadFrame(data []byte) (frame, acks, remaining []byte) {
	start := -1
	for i, b := range data {
		if b == Start {
			start = i
			break
		}
		if b == Ack || b == Nak {
			acks = append(acks, b)
		}
	}
	if start == -1 {
		return nil, acks, nil
	}

	for i := start + 1; i < len(data); i++ {
		if data[i] == End {
			if i+sumChars >= len(data) {
				// Checksum not complete yet
				return nil, acks, data[start:]
			}
			return data[start : i+1+sumChars], acks, data[i+1+sumChars:]
		}
	}

	// Frame not complete yet
	return nil, acks, data[start:]
}
