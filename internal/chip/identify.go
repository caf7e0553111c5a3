// Package chip identifies HPMicro silicon through the boot ROM.
package chip

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/target"
)

const (
	// ROMAPIRoot is the boot ROM API table root.
	ROMAPIRoot = 0x2001FF00
	// ROMMagicAddr holds the silicon magic on current boot ROMs.
	ROMMagicAddr = ROMAPIRoot + 0x30
	// LegacyTag marks the magic address on old boot ROMs.
	LegacyTag = 0x022010BF

	// NoMagic is reported when no probe matched.
	NoMagic = 0xFFFFFFFF
	// Unknown is the family name of unrecognised silicon.
	Unknown = "Unknown"
)

// Identity is the identified silicon.
type Identity struct {
	Magic  uint32
	Name   string
	Family *Family
}

// Known reports whether the silicon matched the table.
func (id Identity) Known() bool {
	return id.Family != nil
}

// Identify reads the silicon magic from the boot ROM and maps it to a family.
//
// Current ROMs store the magic at ROMMagicAddr. Old ROMs leave it zero and
// instead store LegacyTag at one of the legacy addresses; that address is
// the magic. Transport errors are returned as is.
func Identify(t target.Transport) (Identity, error) {
	magic, err := ReadMagic(t)
	if err != nil {
		return Identity{}, err
	}
	return Resolve(magic), nil
}

// ReadMagic probes the boot ROM for the silicon magic and returns NoMagic
// when nothing matched.
func ReadMagic(t target.Transport) (uint32, error) {
	value, err := target.ReadUint32(t, ROMMagicAddr)
	if err != nil {
		return 0, fmt.Errorf("failed to read ROM magic: %w", err)
	}
	if value != 0 {
		log.Debugf("ROM API magic 0x%08X", value)
		return value, nil
	}

	for _, addr := range legacyProbes {
		value, err := target.ReadUint32(t, addr)
		if err != nil {
			return 0, fmt.Errorf("failed to read legacy tag at 0x%08X: %w", addr, err)
		}
		if value == LegacyTag {
			log.Debugf("legacy ROM tag at 0x%08X", addr)
			return addr, nil
		}
	}

	return NoMagic, nil
}

// Resolve maps magic to its identity.
func Resolve(magic uint32) Identity {
	family := Lookup(magic)
	if family == nil {
		return Identity{Magic: magic, Name: Unknown}
	}
	return Identity{Magic: magic, Name: family.Name, Family: family}
}
