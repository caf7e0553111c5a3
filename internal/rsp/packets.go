package rsp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Packet builders. All return the unframed payload.

// ReadMemory returns an 'm' packet reading length bytes at addr.
func ReadMemory(addr uint32, length int) []byte {
	return []byte(fmt.Sprintf("m%x,%x", addr, length))
}

// WriteMemory returns an 'M' packet writing data at addr.
func WriteMemory(addr uint32, data []byte) []byte {
	return []byte(fmt.Sprintf("M%x,%x:%s", addr, len(data), hex.EncodeToString(data)))
}

// ReadRegister returns a 'p' packet reading register n.
func ReadRegister(n int) []byte {
	return []byte(fmt.Sprintf("p%x", n))
}

// WriteRegister returns a 'P' packet writing a 32-bit register in target
// (little-endian) byte order.
func WriteRegister(n int, value uint32) []byte {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], value)
	return []byte(fmt.Sprintf("P%x=%s", n, hex.EncodeToString(raw[:])))
}

// Continue returns a 'c' packet resuming at the current pc.
func Continue() []byte {
	return []byte("c")
}

// HaltReason returns a '?' packet.
func HaltReason() []byte {
	return []byte("?")
}

// Supported returns the qSupported handshake packet.
func Supported() []byte {
	return []byte("qSupported:multiprocess-;swbreak+;hwbreak+")
}

// Monitor returns a qRcmd packet carrying a monitor command.
func Monitor(cmd string) []byte {
	return []byte("qRcmd," + hex.EncodeToString([]byte(cmd)))
}

// Attach returns a vAttach packet for target n.
func Attach(n int) []byte {
	return []byte(fmt.Sprintf("vAttach;%x", n))
}

// Detach returns a 'D' packet.
func Detach() []byte {
	return []byte("D")
}

// Reply is a decoded packet received from the remote side.
type Reply []byte

// IsOK reports an "OK" reply.
func (r Reply) IsOK() bool {
	return string(r) == "OK"
}

// IsEmpty reports an empty reply, meaning the request is unsupported.
func (r Reply) IsEmpty() bool {
	return len(r) == 0
}

// IsError reports an "Enn" reply.
func (r Reply) IsError() bool {
	if len(r) != 3 || r[0] != 'E' {
		return false
	}
	_, err := strconv.ParseUint(string(r[1:]), 16, 8)
	return err == nil
}

// ErrorCode returns nn of an "Enn" reply.
func (r Reply) ErrorCode() byte {
	if !r.IsError() {
		return 0
	}
	v, _ := strconv.ParseUint(string(r[1:]), 16, 8)
	return byte(v)
}

// IsStop reports a stop reply (S or T packet).
func (r Reply) IsStop() bool {
	if len(r) < 3 || (r[0] != 'S' && r[0] != 'T') {
		return false
	}
	_, err := hex.DecodeString(string(r[1:3]))
	return err == nil
}

// Signal returns the signal number of a stop reply.
func (r Reply) Signal() byte {
	if !r.IsStop() {
		return 0
	}
	b, _ := hex.DecodeString(string(r[1:3]))
	return b[0]
}

// IsConsole reports an 'O' console output packet.
func (r Reply) IsConsole() bool {
	if len(r) < 1 || r[0] != 'O' || r.IsOK() {
		return false
	}
	_, err := hex.DecodeString(string(r[1:]))
	return err == nil
}

// Console returns the text of an 'O' packet.
func (r Reply) Console() string {
	if !r.IsConsole() {
		return ""
	}
	b, _ := hex.DecodeString(string(r[1:]))
	return string(b)
}

// Bytes decodes a hex payload reply, as returned for 'm' and 'p'.
func (r Reply) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(string(r))
	if err != nil {
		return nil, fmt.Errorf("bad hex reply %q: %w", string(r), err)
	}
	return b, nil
}

// Uint32 decodes a little-endian register value reply.
func (r Reply) Uint32() (uint32, error) {
	b, err := r.Bytes()
	if err != nil {
		return 0, err
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("register reply %q too short", string(r))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Features parses a qSupported reply into name=value pairs; flags map to
// "+" or "-".
func (r Reply) Features() map[string]string {
	features := make(map[string]string)
	for _, f := range strings.Split(string(r), ";") {
		switch {
		case f == "":
		case strings.Contains(f, "="):
			kv := strings.SplitN(f, "=", 2)
			features[kv[0]] = kv[1]
		case strings.HasSuffix(f, "+"), strings.HasSuffix(f, "-"):
			features[f[:len(f)-1]] = f[len(f)-1:]
		default:
			features[f] = ""
		}
	}
	return features
}
