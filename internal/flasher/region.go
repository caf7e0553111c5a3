package flasher

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/algo"
)

// ProgressCallback is called to report flash progress in bytes.
type ProgressCallback func(current, total int)

// Region is the flash range of one Device, written sector by sector.
type Region struct {
	Start     uint32
	Length    uint32
	BlockSize uint32 // erase granularity
	WriteSize uint32 // largest single program call

	dev      *Device
	prepared bool
	erased   bitmap.Bitmap
	progress ProgressCallback
}

// NewRegion returns the region described by the device configuration.
func NewRegion(dev *Device) *Region {
	cfg := dev.Config()
	writeSize := cfg.SectorSize
	if writeSize > algo.BufferSize {
		writeSize = algo.BufferSize
	}
	return &Region{
		Start:     cfg.FlashBase,
		Length:    cfg.FlashSize,
		BlockSize: cfg.SectorSize,
		WriteSize: writeSize,
		dev:       dev,
		erased:    bitmap.New(int(cfg.FlashSize / cfg.SectorSize)),
	}
}

// SetProgressCallback sets the progress callback function.
func (r *Region) SetProgressCallback(cb ProgressCallback) {
	r.progress = cb
}

func (r *Region) reportProgress(current, total int) {
	if r.progress != nil {
		r.progress(current, total)
	}
}

// Contains reports whether [addr, addr+n) lies inside the region.
func (r *Region) Contains(addr uint32, n int) bool {
	start := uint64(r.Start)
	a := uint64(addr)
	return a >= start && a+uint64(n) <= start+uint64(r.Length)
}

// Prepare loads and initializes the flash algorithm once per region.
func (r *Region) Prepare() error {
	if r.prepared {
		return nil
	}
	if err := r.dev.Prepare(); err != nil {
		return err
	}
	r.prepared = true
	return nil
}

func (r *Region) sector(addr uint32) int {
	return int((addr - r.Start) / r.BlockSize)
}

func (r *Region) sectorStart(addr uint32) uint32 {
	return addr - (addr-r.Start)%r.BlockSize
}

// Erase erases the sectors covering [addr, addr+length).
func (r *Region) Erase(addr, length uint32) error {
	if length == 0 {
		return nil
	}
	if !r.Contains(addr, int(length)) {
		return fmt.Errorf("range 0x%08X+0x%X outside flash 0x%08X+0x%X", addr, length, r.Start, r.Length)
	}
	if err := r.Prepare(); err != nil {
		return err
	}

	start := r.sectorStart(addr)
	end := r.sectorStart(addr+length-1) + r.BlockSize
	if err := r.dev.Erase(start, end-start); err != nil {
		return err
	}
	for a := start; a < end; a += r.BlockSize {
		r.erased.Set(r.sector(a), true)
	}
	return nil
}

// MassErase erases the whole region.
func (r *Region) MassErase() error {
	if err := r.dev.MassErase(); err != nil {
		return err
	}
	r.prepared = true
	for i := 0; i < len(r.erased)*8; i++ {
		r.erased.Set(i, true)
	}
	return nil
}

func (r *Region) eraseOnce(addr uint32) error {
	s := r.sector(addr)
	if r.erased.Get(s) {
		return nil
	}
	if err := r.dev.Erase(r.sectorStart(addr), r.BlockSize); err != nil {
		return err
	}
	r.erased.Set(s, true)
	return nil
}

func (r *Region) markProgrammed(addr, length uint32) {
	for s := r.sector(addr); s <= r.sector(addr+length-1); s++ {
		r.erased.Set(s, false)
	}
}

// Flash writes data at addr, erasing every touched sector once, and
// optionally verifies it by reading the flash back. Sectors written here
// are no longer blank, so a later Flash erases them again.
func (r *Region) Flash(data []byte, addr uint32, verify bool) error {
	if !r.Contains(addr, len(data)) {
		return fmt.Errorf("image 0x%08X+0x%X outside flash 0x%08X+0x%X", addr, len(data), r.Start, r.Length)
	}
	if err := r.Prepare(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	defer r.markProgrammed(addr, uint32(len(data)))

	total := len(data)
	for off := 0; off < total; {
		a := addr + uint32(off)
		n := int(r.WriteSize - (a-r.Start)%r.WriteSize)
		if n > total-off {
			n = total - off
		}

		if err := r.eraseOnce(a); err != nil {
			return err
		}
		if err := r.dev.Write(a, data[off:off+n]); err != nil {
			return err
		}

		off += n
		r.reportProgress(off, total)
	}

	if verify {
		if err := r.Verify(data, addr); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}
	return nil
}

// Verify compares the CRC-32 of data with the flash contents at addr.
func (r *Region) Verify(data []byte, addr uint32) error {
	readback, err := r.dev.Transport().ReadMemory(addr, len(data))
	if err != nil {
		return fmt.Errorf("failed to read back flash: %w", err)
	}

	expected := Checksum(data)
	actual := Checksum(readback)
	log.Debugf("verify 0x%08X+0x%X: crc32 0x%08X, flash 0x%08X", addr, len(data), expected, actual)
	if actual != expected {
		return fmt.Errorf("CRC mismatch: expected 0x%08X, got 0x%08X", expected, actual)
	}
	return nil
}
