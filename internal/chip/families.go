package chip

import (
	"github.com/bigbag/hpm-flasher/internal/xpi"
)

// Silicon revision magics.
const (
	HPM6700A0 = 0x2001F398
	HPM6700A1 = 0x2001FA40
	HPM6300A0 = 0x2001E6FC
	HPM6300A1 = 0x2001D8E4
	HPM6200A0 = 0x2001C448
	HPM6200A1 = 0x20014E0C
	HPM6800A0 = 0x2001DB20
	HPM5300A0 = 0x01000200
	HPM6200A2 = 0x10000500
	HPM6E00A0 = 0x10001200
	HPM6P00A0 = 0x10000600
)

// Region is a RAM region of the target.
type Region struct {
	Start uint32
	Size  uint32
}

// Family describes the memory layout and controller defaults of a chip family.
type Family struct {
	Name string
	RAM  []Region

	// Controller overrides; zero keeps the xpi default.
	XPIBase   uint32
	FlashSize uint32

	// Header and option overrides, applied together when HasOptions is set.
	HasOptions bool
	Header     uint32
	Opt0       uint32
	Opt1       uint32
}

// Config returns the controller configuration for f.
func (f *Family) Config() xpi.Config {
	cfg := xpi.Default()
	if f == nil {
		return cfg
	}
	if f.XPIBase != 0 {
		cfg.Base = f.XPIBase
	}
	if f.FlashSize != 0 {
		cfg.FlashSize = f.FlashSize
	}
	if f.HasOptions {
		cfg.Header = f.Header
		cfg.Opt0 = f.Opt0
		cfg.Opt1 = f.Opt1
	}
	return cfg
}

const kb = 1024

var (
	hpm6700 = &Family{
		Name:    "hpm6700",
		XPIBase: 0xF3040000,
		RAM: []Region{
			{0x00000000, 256 * kb},
			{0x00080000, 256 * kb},
			{0x01080000, 512 * kb},
			{0x01100000, 256 * kb},
			{0x0117C000, 16 * kb},
			{0xF0300000, 32 * kb},
			{0xF40F0000, 8 * kb},
		},
	}
	hpm6300 = &Family{
		Name:      "hpm6300",
		XPIBase:   0xF3040000,
		FlashSize: 0x1000000,
		RAM: []Region{
			{0x00000000, 128 * kb},
			{0x00080000, 128 * kb},
			{0x01080000, 256 * kb},
			{0x010C0000, 256 * kb},
			{0xF0300000, 32 * kb},
		},
	}
	hpm6200 = &Family{
		Name:      "hpm6200",
		XPIBase:   0xF3040000,
		FlashSize: 0x1000000,
		RAM: []Region{
			{0x00000000, 128 * kb},
			{0x00080000, 128 * kb},
			{0x01080000, 128 * kb},
			{0x010A0000, 128 * kb},
			{0xF0300000, 32 * kb},
		},
	}
	hpm6800 = &Family{
		Name: "hpm6800",
		RAM: []Region{
			{0x00000000, 256 * kb},
			{0x00080000, 256 * kb},
			{0x01200000, 256 * kb},
			{0x01240000, 256 * kb},
			{0xF0400000, 32 * kb},
			{0xF4130000, 16 * kb},
		},
	}
	hpm5300 = &Family{
		Name:       "hpm5300",
		HasOptions: true,
		Header:     xpi.DefaultHeader + 1,
		Opt0:       6,
		Opt1:       0x1000,
		RAM: []Region{
			{0x00000000, 128 * kb},
			{0x00080000, 128 * kb},
			{0xF0400000, 32 * kb},
		},
	}
	hpm6e00 = &Family{
		Name:       "hpm6e00",
		HasOptions: true,
		Header:     xpi.DefaultHeader,
		Opt0:       7,
		Opt1:       0,
		RAM: []Region{
			{0x00000000, 256 * kb},
			{0x00200000, 256 * kb},
			{0x01200000, 512 * kb},
			{0x01280000, 256 * kb},
			{0x012FC000, 16 * kb},
			{0xF0200000, 32 * kb},
		},
	}
	hpm6p00 = &Family{
		Name:       "hpm6p00",
		HasOptions: true,
		Header:     xpi.DefaultHeader + 1,
		Opt0:       5,
		Opt1:       0x1000,
		RAM: []Region{
			{0x00000000, 128 * kb},
			{0x00200000, 128 * kb},
			{0x01200000, 128 * kb},
			{0x01220000, 128 * kb},
			{0xF0200000, 32 * kb},
		},
	}
)

// Silicon maps a revision magic to its family.
type Silicon struct {
	Magic  uint32
	Family *Family
}

// silicons is searched in order; the first matching magic wins.
var silicons = []Silicon{
	{HPM6700A0, hpm6700},
	{HPM6700A1, hpm6700},
	{HPM6300A0, hpm6300},
	{HPM6300A1, hpm6300},
	{HPM6200A0, hpm6200},
	{HPM6200A1, hpm6200},
	{HPM6200A2, hpm6200},
	{HPM5300A0, hpm5300},
	{HPM6800A0, hpm6800},
	{HPM6E00A0, hpm6e00},
	{HPM6P00A0, hpm6p00},
}

// legacyProbes lists the magics that old boot ROMs expose as tagged
// addresses instead of a ROM API table entry.
var legacyProbes = []uint32{
	HPM6700A0, HPM6700A1, HPM6300A0, HPM6300A1,
	HPM6200A0, HPM6200A1, HPM6800A0,
}

// Silicons returns a copy of the silicon table.
func Silicons() []Silicon {
	out := make([]Silicon, len(silicons))
	copy(out, silicons)
	return out
}

// Lookup returns the family of magic, or nil when it is unknown.
func Lookup(magic uint32) *Family {
	for _, s := range silicons {
		if s.Magic == magic {
			return s.Family
		}
	}
	return nil
}
