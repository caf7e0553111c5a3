package target

import "fmt"

// RISC-V core register indices as numbered by the debugger.
const (
	RegRA = 1  // x1, return address
	RegSP = 2  // x2, stack pointer
	RegA0 = 10 // x10, first argument and return value
	RegPC = 32
)

// MaxArgs is the number of argument registers (a0..a4) the flash
// algorithm entry points take.
const MaxArgs = 5

// ArgRegister returns the register index of argument n (a0 + n).
func ArgRegister(n int) int {
	if n < 0 || n >= MaxArgs {
		panic(fmt.Sprintf("argument register %d out of range", n))
	}
	return RegA0 + n
}

// RegisterName returns the ABI name of a register index.
func RegisterName(index int) string {
	switch {
	case index == RegRA:
		return "ra"
	case index == RegSP:
		return "sp"
	case index == RegPC:
		return "pc"
	case index >= RegA0 && index < RegA0+8:
		return fmt.Sprintf("a%d", index-RegA0)
	default:
		return fmt.Sprintf("x%d", index)
	}
}
