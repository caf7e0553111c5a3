package algo

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/hpm-flasher/internal/xpi"
)

// FlashInfo is the geometry reported by the get-info entry.
type FlashInfo struct {
	TotalSize  uint32
	SectorSize uint32
}

// Init initializes the flash controller from cfg.
func (d *Dispatcher) Init(cfg xpi.Config) error {
	_, err := d.Invoke(NewCallFrame(EntryInit, BudgetCommand,
		cfg.FlashBase, cfg.Header, cfg.Opt0, cfg.Opt1, cfg.Base))
	return err
}

// Erase erases length bytes at offset from the start of flash.
func (d *Dispatcher) Erase(cfg xpi.Config, offset, length uint32) error {
	_, err := d.Invoke(NewCallFrame(EntryErase, BudgetErase,
		cfg.FlashBase, offset, length))
	return err
}

// Program writes length bytes from the RAM buffer at src to offset from
// the start of flash.
func (d *Dispatcher) Program(cfg xpi.Config, offset, src, length uint32) error {
	_, err := d.Invoke(NewCallFrame(EntryProgram, BudgetWrite,
		cfg.FlashBase, offset, src, length))
	return err
}

// GetInfo queries the flash geometry detected by the algorithm.
func (d *Dispatcher) GetInfo(cfg xpi.Config) (FlashInfo, error) {
	var info FlashInfo
	if _, err := d.Invoke(NewCallFrame(EntryGetInfo, BudgetCommand,
		cfg.FlashBase, BufferBase)); err != nil {
		return info, err
	}

	buf, err := d.t.ReadMemory(BufferBase, 8)
	if err != nil {
		return info, fmt.Errorf("failed to read flash info: %w", err)
	}
	if len(buf) < 8 {
		return info, fmt.Errorf("failed to read flash info: got %d bytes", len(buf))
	}
	info.TotalSize = binary.LittleEndian.Uint32(buf[0:4])
	info.SectorSize = binary.LittleEndian.Uint32(buf[4:8])
	return info, nil
}
