// Package flasher programs XPI flash through the flash algorithm.
package flasher

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/algo"
	"github.com/bigbag/hpm-flasher/internal/target"
	"github.com/bigbag/hpm-flasher/internal/xpi"
)

// Device binds flash operations to algorithm calls on one target.
//
// cfg is shared with the session that owns the device, so a later
// configuration change applies to the next call.
type Device struct {
	t      target.Transport
	cfg    *xpi.Config
	loader *algo.Loader
	calls  *algo.Dispatcher
}

// New creates a Device for t.
func New(t target.Transport, cfg *xpi.Config, loader *algo.Loader, opts ...algo.Option) *Device {
	return &Device{
		t:      t,
		cfg:    cfg,
		loader: loader,
		calls:  algo.NewDispatcher(t, opts...),
	}
}

// Config returns the configuration in effect.
func (d *Device) Config() xpi.Config {
	return *d.cfg
}

// Transport returns the transport the device drives.
func (d *Device) Transport() target.Transport {
	return d.t
}

// Prepare reloads the algorithm and initializes the flash controller.
func (d *Device) Prepare() error {
	if err := d.loader.Load(d.t); err != nil {
		return err
	}
	if err := d.calls.Init(*d.cfg); err != nil {
		return fmt.Errorf("flash init failed: %w", err)
	}
	return nil
}

// Erase erases length bytes at the absolute flash address addr.
func (d *Device) Erase(addr, length uint32) error {
	offset := addr - d.cfg.FlashBase
	log.Debugf("erase 0x%08X+0x%X (offset 0x%X)", addr, length, offset)
	if err := d.calls.Erase(*d.cfg, offset, length); err != nil {
		return fmt.Errorf("erase at 0x%08X failed: %w", addr, err)
	}
	return nil
}

// Write programs data at the absolute flash address dest. data must fit
// the staging buffer.
func (d *Device) Write(dest uint32, data []byte) error {
	if len(data) > algo.BufferSize {
		return fmt.Errorf("write of %d bytes exceeds staging buffer (%d bytes)", len(data), algo.BufferSize)
	}
	if err := d.t.WriteMemory(algo.BufferBase, data); err != nil {
		return fmt.Errorf("failed to stage data: %w", err)
	}

	offset := dest - d.cfg.FlashBase
	if err := d.calls.Program(*d.cfg, offset, algo.BufferBase, uint32(len(data))); err != nil {
		return fmt.Errorf("program at 0x%08X failed: %w", dest, err)
	}
	return nil
}

// Info reloads the algorithm, initializes it and returns the geometry the
// flash reports.
func (d *Device) Info() (algo.FlashInfo, error) {
	if err := d.Prepare(); err != nil {
		return algo.FlashInfo{}, err
	}
	info, err := d.calls.GetInfo(*d.cfg)
	if err != nil {
		return info, fmt.Errorf("flash get-info failed: %w", err)
	}
	return info, nil
}

// MassErase erases the whole configured flash length.
func (d *Device) MassErase() error {
	if err := d.Prepare(); err != nil {
		return err
	}

	info, err := d.calls.GetInfo(*d.cfg)
	if err != nil {
		log.Debugf("get-info before mass erase: %v", err)
	} else {
		log.Debugf("flash reports total 0x%X sector 0x%X", info.TotalSize, info.SectorSize)
	}

	log.Infof("mass erase 0x%08X+0x%X", d.cfg.FlashBase, d.cfg.FlashSize)
	if err := d.calls.Erase(*d.cfg, 0, d.cfg.FlashSize); err != nil {
		return fmt.Errorf("mass erase failed: %w", err)
	}
	return nil
}
