// Package xpi describes the configuration of the external flash controller.
package xpi

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
)

// Architectural flash window and controller defaults.
const (
	FlashWindowBase = 0x80000000
	FlashWindowSize = 0x2000000

	DefaultBase       = 0xF3000000
	DefaultHeader     = 0xFCF90001
	DefaultOpt0       = 0x00000007
	DefaultOpt1       = 0x00000000
	DefaultSectorSize = 0x1000
)

var (
	// ErrArgCount is returned when a configuration command has the wrong
	// number of arguments.
	ErrArgCount = errors.New("xpi_cfg args invalid")

	// ErrGeometry is returned when a configuration violates the flash
	// window or sector constraints.
	ErrGeometry = errors.New("invalid flash geometry")
)

// Config is the flash controller configuration passed to the flash
// algorithm init entry.
type Config struct {
	Header     uint32
	Base       uint32 // controller register base
	FlashBase  uint32
	FlashSize  uint32
	SectorSize uint32
	Opt0       uint32
	Opt1       uint32
}

// Default returns the configuration used when no family override applies.
func Default() Config {
	return Config{
		Header:     DefaultHeader,
		Base:       DefaultBase,
		FlashBase:  FlashWindowBase,
		FlashSize:  FlashWindowSize,
		SectorSize: DefaultSectorSize,
		Opt0:       DefaultOpt0,
		Opt1:       DefaultOpt1,
	}
}

// Validate checks that the flash region lies inside the flash window and
// that the sector size is a power of two dividing the flash size.
func (c Config) Validate() error {
	start := uint64(c.FlashBase)
	end := start + uint64(c.FlashSize)
	if c.FlashSize == 0 || start < FlashWindowBase || end > FlashWindowBase+FlashWindowSize {
		return fmt.Errorf("%w: flash 0x%08X+0x%X outside window 0x%08X+0x%X",
			ErrGeometry, c.FlashBase, c.FlashSize, uint32(FlashWindowBase), uint32(FlashWindowSize))
	}
	if c.SectorSize == 0 || bits.OnesCount32(c.SectorSize) != 1 {
		return fmt.Errorf("%w: sector size 0x%X is not a power of two", ErrGeometry, c.SectorSize)
	}
	if c.FlashSize%c.SectorSize != 0 {
		return fmt.Errorf("%w: sector size 0x%X does not divide flash size 0x%X",
			ErrGeometry, c.SectorSize, c.FlashSize)
	}
	return nil
}

// WithArgs returns the configuration selected by the operator arguments
// <flash_base> <flash_size> <xpi_base> [opt0] [opt1].
//
// With three arguments header and options take the controller defaults.
// A fourth argument sets opt0 and bumps the header by one to flag the
// option word; a fifth also sets opt1. The receiver is never modified.
func (c Config) WithArgs(args []string) (Config, error) {
	if len(args) < 3 || len(args) > 5 {
		return c, fmt.Errorf("%w: got %d arguments, want 3 to 5", ErrArgCount, len(args))
	}

	values := make([]uint32, len(args))
	for i, arg := range args {
		v, err := ParseUint32(arg)
		if err != nil {
			return c, fmt.Errorf("argument %d: %w", i+1, err)
		}
		values[i] = v
	}

	next := c
	next.FlashBase = values[0]
	next.FlashSize = values[1]
	next.Base = values[2]
	next.Header = DefaultHeader
	next.Opt0 = DefaultOpt0
	next.Opt1 = DefaultOpt1
	if len(values) >= 4 {
		next.Header = DefaultHeader + 1
		next.Opt0 = values[3]
	}
	if len(values) == 5 {
		next.Opt1 = values[4]
	}

	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// ParseUint32 parses a number the way strtoul with base 0 does:
// 0x prefix for hex, leading 0 for octal, decimal otherwise.
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint32(v), nil
}

// String formats the configuration on one line.
func (c Config) String() string {
	return fmt.Sprintf("header=0x%08X xpi_base=0x%08X flash_base=0x%08X flash_size=0x%X sector_size=0x%X opt0=0x%X opt1=0x%X",
		c.Header, c.Base, c.FlashBase, c.FlashSize, c.SectorSize, c.Opt0, c.Opt1)
}
