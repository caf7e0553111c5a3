package target

// Transport is the debug link to a halted target CPU.
//
// All methods fail fast on link errors; callers do not retry them.
// A Transport is single-session: calls must be serialized by the caller.
type Transport interface {
	// ReadMemory reads n bytes of target memory starting at addr.
	ReadMemory(addr uint32, n int) ([]byte, error)
	// WriteMemory writes data to target memory starting at addr.
	WriteMemory(addr uint32, data []byte) error
	// ReadRegister reads a core register by debugger index.
	ReadRegister(index int) (uint32, error)
	// WriteRegister writes a core register by debugger index.
	WriteRegister(index int, value uint32) error
	// Resume releases the core from halt without waiting for it to stop.
	Resume() error
	// PollHalted reports whether the core has halted since the last Resume.
	PollHalted() (bool, error)
}

// ReadUint32 reads a little-endian word from target memory.
func ReadUint32(t Transport, addr uint32) (uint32, error) {
	buf, err := t.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	if len(buf) < 4 {
		return 0, &ShortReadError{Addr: addr, Want: 4, Got: len(buf)}
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
