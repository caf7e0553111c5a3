package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bigbag/hpm-flasher/internal/algo"
	"github.com/bigbag/hpm-flasher/internal/chip"
	"github.com/bigbag/hpm-flasher/internal/target"
	"github.com/bigbag/hpm-flasher/internal/target/targettest"
	"github.com/bigbag/hpm-flasher/internal/xpi"
)

func newTarget(magic uint32) (*targettest.Sim, *targettest.Helper) {
	sim := targettest.New()
	sim.SetUint32(chip.ROMMagicAddr, magic)
	h := &targettest.Helper{
		LoadBase:   algo.LoadBase,
		TotalSize:  0x1000000,
		SectorSize: 0x1000,
	}
	h.Attach(sim)
	return sim, h
}

func probe(t *testing.T, sim *targettest.Sim) *Session {
	t.Helper()
	loader, err := algo.NewLoader(nil)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	s, err := Probe(sim, loader, algo.WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	return s
}

func TestProbe_KnownFamily(t *testing.T) {
	sim, _ := newTarget(chip.HPM6700A1)
	s := probe(t, sim)

	if got := s.Driver(); got != "hpm6700" {
		t.Errorf("Driver() = %q, want %q", got, "hpm6700")
	}
	if got := s.Config().Base; got != 0xF3040000 {
		t.Errorf("Config().Base = 0x%08X, want 0xF3040000", got)
	}
	if got := len(s.RAM()); got != 7 {
		t.Errorf("len(RAM()) = %d, want 7", got)
	}

	var out bytes.Buffer
	s.ChipInfo(&out)
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 1+len(s.RAM()) {
		t.Fatalf("ChipInfo() printed %d lines, want %d:\n%s", len(lines), 1+len(s.RAM()), out.String())
	}
	want := []string{
		"hpmicro chip info: hpm6700",
		"  ram: 0x00000000-0x0003FFFF (256 KiB)",
	}
	if diff := cmp.Diff(want, lines[:2]); diff != "" {
		t.Errorf("ChipInfo() mismatch (-want +got):\n%s", diff)
	}
}

func TestProbe_UnknownSilicon(t *testing.T) {
	sim, _ := newTarget(0)
	s := probe(t, sim)

	if got := s.Driver(); got != DriverName {
		t.Errorf("Driver() = %q, want %q", got, DriverName)
	}
	if diff := cmp.Diff(xpi.Default(), s.Config()); diff != "" {
		t.Errorf("Config() mismatch (-want +got):\n%s", diff)
	}
	if s.RAM() != nil {
		t.Errorf("RAM() = %v, want nil", s.RAM())
	}

	var out bytes.Buffer
	s.ChipInfo(&out)
	if got, want := out.String(), "hpmicro chip info: Unknown\n"; got != want {
		t.Errorf("ChipInfo() = %q, want %q", got, want)
	}
}

func TestProbe_TransportError(t *testing.T) {
	sim, _ := newTarget(chip.HPM6700A1)
	linkDown := errors.New("link down")
	sim.Err = linkDown

	loader, _ := algo.NewLoader(nil)
	if _, err := Probe(sim, loader); !errors.Is(err, linkDown) {
		t.Errorf("Probe() error = %v, want %v", err, linkDown)
	}
}

func TestConfigure(t *testing.T) {
	base := xpi.Default()

	tests := []struct {
		name string
		args []string
		want xpi.Config
	}{
		{
			name: "three arguments",
			args: []string{"0x80000000", "0x100000", "0xF3000000"},
			want: xpi.Config{
				Header: xpi.DefaultHeader, Base: 0xF3000000,
				FlashBase: 0x80000000, FlashSize: 0x100000, SectorSize: base.SectorSize,
				Opt0: xpi.DefaultOpt0, Opt1: xpi.DefaultOpt1,
			},
		},
		{
			name: "four arguments",
			args: []string{"0x80000000", "0x100000", "0xF3000000", "5"},
			want: xpi.Config{
				Header: xpi.DefaultHeader + 1, Base: 0xF3000000,
				FlashBase: 0x80000000, FlashSize: 0x100000, SectorSize: base.SectorSize,
				Opt0: 5, Opt1: xpi.DefaultOpt1,
			},
		},
		{
			name: "five arguments",
			args: []string{"0x80000000", "0x100000", "0xF3000000", "0x5", "0x1000"},
			want: xpi.Config{
				Header: xpi.DefaultHeader + 1, Base: 0xF3000000,
				FlashBase: 0x80000000, FlashSize: 0x100000, SectorSize: base.SectorSize,
				Opt0: 5, Opt1: 0x1000,
			},
		},
	}

	for _, tc := range tests {
		sim, _ := newTarget(chip.HPM6700A1)
		s := probe(t, sim)
		if err := s.Configure(tc.args); err != nil {
			t.Errorf("Configure(%s) error = %v", tc.name, err)
			continue
		}
		if diff := cmp.Diff(tc.want, s.Config()); diff != "" {
			t.Errorf("Configure(%s) mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestConfigure_BadArgumentCountLeavesConfig(t *testing.T) {
	sim, _ := newTarget(chip.HPM6700A1)
	s := probe(t, sim)
	before := s.Config()

	bad := [][]string{
		{"0x80000000", "0x100000"},
		{"1", "2", "3", "4", "5", "6", "7"},
	}
	for _, args := range bad {
		if err := s.Configure(args); !errors.Is(err, xpi.ErrArgCount) {
			t.Errorf("Configure(%d args) error = %v, want ErrArgCount", len(args), err)
		}
		if diff := cmp.Diff(before, s.Config()); diff != "" {
			t.Errorf("Configure(%d args) changed config (-want +got):\n%s", len(args), diff)
		}
	}
}

func TestConfigure_AppliesToDevice(t *testing.T) {
	sim, _ := newTarget(chip.HPM6700A1)
	s := probe(t, sim)

	if err := s.Configure([]string{"0x80100000", "0x100000", "0xF3000000"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := s.Device().Erase(0x80101000, 0x1000); err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	if diff := cmp.Diff([]uint32{0x80100000}, sim.WritesTo(target.ArgRegister(0))); diff != "" {
		t.Errorf("a0 writes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0x1000}, sim.WritesTo(target.ArgRegister(1))); diff != "" {
		t.Errorf("a1 writes mismatch (-want +got):\n%s", diff)
	}

	r := s.Region()
	if r.Start != 0x80100000 || r.Length != 0x100000 {
		t.Errorf("Region() = 0x%08X+0x%X, want 0x80100000+0x100000", r.Start, r.Length)
	}
}

func TestInfo(t *testing.T) {
	sim, h := newTarget(chip.HPM6700A1)
	s := probe(t, sim)

	var out bytes.Buffer
	if err := s.Info(&out); err != nil {
		t.Fatalf("Info() error = %v", err)
	}

	want := strings.Join([]string{
		"  cfg_xpi_header: 0xfcf90001",
		"  cfg_flash_base: 0x80000000",
		"  cfg_flash_size: 0x2000000",
		"    cfg_xpi_base: 0xf3040000",
		"        cfg_opt0: 0x7",
		"        cfg_opt1: 0x0",
		" real total size: 0x1000000",
		"real sector size: 0x1000",
		"",
	}, "\n")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("Info() output mismatch (-want +got):\n%s", diff)
	}

	wantEntries := []uint32{uint32(algo.EntryInit), uint32(algo.EntryGetInfo)}
	if diff := cmp.Diff(wantEntries, h.Entries()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestInfo_GetInfoFailure(t *testing.T) {
	sim, h := newTarget(chip.HPM6700A1)
	h.Status = map[uint32]uint32{uint32(algo.EntryGetInfo): 3}
	s := probe(t, sim)

	var out bytes.Buffer
	err := s.Info(&out)
	var se *algo.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Info() error = %v, want *algo.StatusError", err)
	}
	if strings.Contains(out.String(), "real total size") {
		t.Errorf("Info() printed geometry after failure:\n%s", out.String())
	}
}
