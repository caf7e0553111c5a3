// Package session holds the state of one attached HPMicro target.
package session

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/algo"
	"github.com/bigbag/hpm-flasher/internal/chip"
	"github.com/bigbag/hpm-flasher/internal/flasher"
	"github.com/bigbag/hpm-flasher/internal/target"
	"github.com/bigbag/hpm-flasher/internal/xpi"
)

// DriverName is reported for silicon missing from the family table.
const DriverName = "HPMicro"

// Session owns the flash configuration of one target. It is not safe for
// concurrent use.
type Session struct {
	id  chip.Identity
	cfg xpi.Config
	dev *flasher.Device
}

// Probe identifies the silicon behind t and sets up the family defaults.
// Unknown silicon keeps the generic controller defaults.
func Probe(t target.Transport, loader *algo.Loader, opts ...algo.Option) (*Session, error) {
	id, err := chip.Identify(t)
	if err != nil {
		return nil, fmt.Errorf("failed to identify chip: %w", err)
	}

	s := &Session{
		id:  id,
		cfg: id.Family.Config(),
	}
	s.dev = flasher.New(t, &s.cfg, loader, opts...)

	if id.Known() {
		log.Infof("detected %s (magic 0x%08X)", id.Name, id.Magic)
	} else {
		log.Warnf("unknown HPMicro silicon (magic 0x%08X), using defaults", id.Magic)
	}
	return s, nil
}

// Identity returns the identified silicon.
func (s *Session) Identity() chip.Identity {
	return s.id
}

// Driver returns the name the target is reported under.
func (s *Session) Driver() string {
	if s.id.Known() {
		return s.id.Name
	}
	return DriverName
}

// RAM returns the RAM map of the identified family.
func (s *Session) RAM() []chip.Region {
	if s.id.Family == nil {
		return nil
	}
	return s.id.Family.RAM
}

// Config returns the configuration in effect.
func (s *Session) Config() xpi.Config {
	return s.cfg
}

// Device returns the flash device of the session.
func (s *Session) Device() *flasher.Device {
	return s.dev
}

// Region returns the flash region for the configuration in effect.
func (s *Session) Region() *flasher.Region {
	return flasher.NewRegion(s.dev)
}

// ChipInfo prints the identified family and its RAM map.
func (s *Session) ChipInfo(w io.Writer) {
	fmt.Fprintf(w, "hpmicro chip info: %s\n", s.id.Name)
	for _, r := range s.RAM() {
		fmt.Fprintf(w, "  ram: 0x%08X-0x%08X (%d KiB)\n", r.Start, r.Start+r.Size-1, r.Size/1024)
	}
}

// Configure replaces the configuration from operator arguments
// <flash_base> <flash_size> <xpi_base> [opt0] [opt1]. On error the
// configuration is left unchanged.
func (s *Session) Configure(args []string) error {
	next, err := s.cfg.WithArgs(args)
	if err != nil {
		return err
	}
	s.cfg = next
	log.Debugf("xpi config: %s", s.cfg)
	return nil
}

// Info prints the configuration, then runs init and get-info on the target
// and prints the geometry the flash reports.
func (s *Session) Info(w io.Writer) error {
	fmt.Fprintf(w, "  cfg_xpi_header: 0x%x\n", s.cfg.Header)
	fmt.Fprintf(w, "  cfg_flash_base: 0x%x\n", s.cfg.FlashBase)
	fmt.Fprintf(w, "  cfg_flash_size: 0x%x\n", s.cfg.FlashSize)
	fmt.Fprintf(w, "    cfg_xpi_base: 0x%x\n", s.cfg.Base)
	fmt.Fprintf(w, "        cfg_opt0: 0x%x\n", s.cfg.Opt0)
	fmt.Fprintf(w, "        cfg_opt1: 0x%x\n", s.cfg.Opt1)

	info, err := s.dev.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, " real total size: 0x%x\n", info.TotalSize)
	fmt.Fprintf(w, "real sector size: 0x%x\n", info.SectorSize)
	return nil
}
