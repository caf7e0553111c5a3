package algo

import (
	"fmt"

	"github.com/bigbag/hpm-flasher/internal/target"
)

// Entry is a byte offset of an entry point in the loaded image.
type Entry uint32

// Entry points of the flash algorithm.
const (
	EntryInit      Entry = 0x00
	EntryErase     Entry = 0x06
	EntryProgram   Entry = 0x0C
	EntryRead      Entry = 0x12
	EntryGetInfo   Entry = 0x18
	EntryEraseChip Entry = 0x1E
)

func (e Entry) String() string {
	switch e {
	case EntryInit:
		return "init"
	case EntryErase:
		return "erase"
	case EntryProgram:
		return "program"
	case EntryRead:
		return "read"
	case EntryGetInfo:
		return "get-info"
	case EntryEraseChip:
		return "erase-chip"
	default:
		return fmt.Sprintf("entry+0x%X", uint32(e))
	}
}

// Poll budgets, in poll iterations of roughly one millisecond each.
const (
	BudgetCommand = 500
	BudgetWrite   = 10000
	BudgetErase   = 100000
)

// CallFrame is the register state established before running an entry.
type CallFrame struct {
	Entry         Entry
	ReturnAddress uint32
	StackPointer  uint32
	Args          []uint32
	Budget        int
}

// NewCallFrame returns a frame for entry with the standard stack and a
// return address one instruction past the entry. Each entry starts with a
// call into the helper followed by an ebreak, so returning there halts the
// core.
func NewCallFrame(entry Entry, budget int, args ...uint32) CallFrame {
	return CallFrame{
		Entry:         entry,
		ReturnAddress: LoadBase + uint32(entry) + 4,
		StackPointer:  StackBase,
		Args:          args,
		Budget:        budget,
	}
}

// ProgramCounter returns the absolute entry address.
func (f CallFrame) ProgramCounter() uint32 {
	return LoadBase + uint32(f.Entry)
}

type registerWrite struct {
	index int
	value uint32
}

// registers maps the frame onto core registers in the order they are
// written: sp, a0..a4, pc, ra.
func (f CallFrame) registers() ([]registerWrite, error) {
	if len(f.Args) > target.MaxArgs {
		return nil, fmt.Errorf("%s: %d arguments, at most %d fit in registers", f.Entry, len(f.Args), target.MaxArgs)
	}

	regs := make([]registerWrite, 0, len(f.Args)+3)
	regs = append(regs, registerWrite{target.RegSP, f.StackPointer})
	for i, arg := range f.Args {
		regs = append(regs, registerWrite{target.ArgRegister(i), arg})
	}
	regs = append(regs,
		registerWrite{target.RegPC, f.ProgramCounter()},
		registerWrite{target.RegRA, f.ReturnAddress},
	)
	return regs, nil
}
