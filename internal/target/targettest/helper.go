package targettest

import (
	"github.com/bigbag/hpm-flasher/internal/target"
)

// Entry offsets of the XPI flash algorithm, relative to its load base.
const (
	helperInit    = 0x00
	helperErase   = 0x06
	helperProgram = 0x0C
	helperGetInfo = 0x18
)

// HelperCall records one emulated algorithm invocation.
type HelperCall struct {
	Entry uint32
	Args  [target.MaxArgs]uint32
}

// Helper emulates the XPI flash algorithm on top of a Sim.
//
// Install it with Attach. Erase fills the addressed flash range with 0xFF,
// program copies from the RAM buffer into flash, get-info writes
// {TotalSize, SectorSize} to the buffer passed in a1.
type Helper struct {
	LoadBase   uint32
	TotalSize  uint32
	SectorSize uint32

	// Status maps entry offsets to the value left in a0; missing means 0.
	Status map[uint32]uint32

	Calls []HelperCall
}

// Attach installs h as the OnResume hook of s.
func (h *Helper) Attach(s *Sim) {
	s.OnResume = h.run
}

// Entries returns the entry offsets of all recorded calls.
func (h *Helper) Entries() []uint32 {
	entries := make([]uint32, 0, len(h.Calls))
	for _, c := range h.Calls {
		entries = append(entries, c.Entry)
	}
	return entries
}

func (h *Helper) run(s *Sim) {
	call := HelperCall{Entry: s.Registers[target.RegPC] - h.LoadBase}
	for i := range call.Args {
		call.Args[i] = s.Registers[target.ArgRegister(i)]
	}
	h.Calls = append(h.Calls, call)

	a := call.Args
	switch call.Entry {
	case helperErase:
		for i := uint32(0); i < a[2]; i++ {
			s.Memory[a[0]+a[1]+i] = 0xFF
		}
	case helperProgram:
		for i := uint32(0); i < a[3]; i++ {
			s.Memory[a[0]+a[1]+i] = s.Memory[a[2]+i]
		}
	case helperGetInfo:
		s.SetUint32(a[1], h.TotalSize)
		s.SetUint32(a[1]+4, h.SectorSize)
	}
	s.Registers[target.RegA0] = h.Status[call.Entry]
}
