// Package targettest provides an in-memory debug transport for tests.
package targettest

import (
	"github.com/bigbag/hpm-flasher/internal/target"
)

// NeverHalt makes a Sim report a running core forever after Resume.
const NeverHalt = -1

// RegisterWrite records one WriteRegister call.
type RegisterWrite struct {
	Index int
	Value uint32
}

// Sim is a simulated halted RISC-V target.
//
// Memory is sparse; unwritten bytes read as zero. After Resume the core
// reports running for HaltAfter polls and halted on the next one.
type Sim struct {
	Memory    map[uint32]byte
	Registers map[int]uint32

	// HaltAfter is the number of polls that report running after a Resume.
	HaltAfter int

	// OnResume, when set, runs at every Resume with the register file as
	// it was written by the caller. It can emulate the code being run.
	OnResume func(s *Sim)

	// Err, when set, is returned by every transport call.
	Err error

	RegisterWrites []RegisterWrite
	MemoryReads    []uint32
	Resumes        int
	Polls          int

	running          bool
	pollsSinceResume int
}

var _ target.Transport = (*Sim)(nil)

// New returns an empty Sim whose core halts on the first poll.
func New() *Sim {
	return &Sim{
		Memory:    make(map[uint32]byte),
		Registers: make(map[int]uint32),
	}
}

// SetUint32 stores a little-endian word in memory.
func (s *Sim) SetUint32(addr, value uint32) {
	for i := uint32(0); i < 4; i++ {
		s.Memory[addr+i] = byte(value >> (8 * i))
	}
}

// Uint32 loads a little-endian word from memory.
func (s *Sim) Uint32(addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(s.Memory[addr+i]) << (8 * i)
	}
	return v
}

// Bytes returns n bytes of memory starting at addr without recording a read.
func (s *Sim) Bytes(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = s.Memory[addr+uint32(i)]
	}
	return out
}

// Running reports whether the simulated core is running.
func (s *Sim) Running() bool {
	return s.running
}

// WritesTo returns the values written to register index, in order.
func (s *Sim) WritesTo(index int) []uint32 {
	var values []uint32
	for _, w := range s.RegisterWrites {
		if w.Index == index {
			values = append(values, w.Value)
		}
	}
	return values
}

// ResetLog clears the recorded accesses.
func (s *Sim) ResetLog() {
	s.RegisterWrites = nil
	s.MemoryReads = nil
	s.Resumes = 0
	s.Polls = 0
}

// ReadMemory implements target.Transport.
func (s *Sim) ReadMemory(addr uint32, n int) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.MemoryReads = append(s.MemoryReads, addr)
	return s.Bytes(addr, n), nil
}

// WriteMemory implements target.Transport.
func (s *Sim) WriteMemory(addr uint32, data []byte) error {
	if s.Err != nil {
		return s.Err
	}
	for i, b := range data {
		s.Memory[addr+uint32(i)] = b
	}
	return nil
}

// ReadRegister implements target.Transport.
func (s *Sim) ReadRegister(index int) (uint32, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Registers[index], nil
}

// WriteRegister implements target.Transport.
func (s *Sim) WriteRegister(index int, value uint32) error {
	if s.Err != nil {
		return s.Err
	}
	s.RegisterWrites = append(s.RegisterWrites, RegisterWrite{Index: index, Value: value})
	s.Registers[index] = value
	return nil
}

// Resume implements target.Transport.
func (s *Sim) Resume() error {
	if s.Err != nil {
		return s.Err
	}
	s.Resumes++
	s.running = true
	s.pollsSinceResume = 0
	if s.OnResume != nil {
		s.OnResume(s)
	}
	return nil
}

// PollHalted implements target.Transport.
func (s *Sim) PollHalted() (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if !s.running {
		return true, nil
	}
	s.Polls++
	idx := s.pollsSinceResume
	s.pollsSinceResume++
	if s.HaltAfter != NeverHalt && idx >= s.HaltAfter {
		s.running = false
		return true, nil
	}
	return false, nil
}
