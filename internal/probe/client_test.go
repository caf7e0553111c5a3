package probe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bigbag/hpm-flasher/internal/rsp"
	"github.com/bigbag/hpm-flasher/internal/target"
)

const neverStop = -1

// fakeProbe is a scripted GDB server on the far side of a Port.
type fakeProbe struct {
	handle func(payload string) []string

	nakFirst  int
	stopDelay int

	in          []byte
	out         []byte
	requests    []string
	pendingStop bool
	breaks      int
}

func (f *fakeProbe) Write(p []byte) (int, error) {
	f.in = append(f.in, p...)
	for {
		for len(f.in) > 0 && f.in[0] != rsp.Start {
			if f.in[0] == rsp.Break {
				f.breaks++
				f.pendingStop = true
				f.stopDelay = 0
			}
			f.in = f.in[1:]
		}
		frame, _, rest := rsp.ReadFrame(f.in)
		if frame == nil {
			return len(p), nil
		}
		f.in = rest

		payload, err := rsp.Decode(frame)
		if err != nil || f.nakFirst > 0 {
			if f.nakFirst > 0 {
				f.nakFirst--
			}
			f.out = append(f.out, rsp.Nak)
			continue
		}
		f.out = append(f.out, rsp.Ack)
		f.requests = append(f.requests, string(payload))

		if string(payload) == "c" {
			f.pendingStop = true
			continue
		}
		if f.handle == nil {
			f.out = append(f.out, rsp.Encode(nil)...)
			continue
		}
		for _, r := range f.handle(string(payload)) {
			f.out = append(f.out, rsp.Encode([]byte(r))...)
		}
	}
}

func (f *fakeProbe) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if len(f.out) == 0 && f.pendingStop {
		switch {
		case f.stopDelay == neverStop:
		case f.stopDelay > 0:
			f.stopDelay--
		default:
			f.pendingStop = false
			f.out = append(f.out, rsp.Encode([]byte("S05"))...)
		}
	}
	n := copy(buf, f.out)
	f.out = f.out[n:]
	return n, nil
}

func (f *fakeProbe) Flush() error {
	f.out = nil
	return nil
}

func newTestClient(f *fakeProbe) *Client {
	return New(f, 100*time.Millisecond)
}

// memoryHandler answers 'm' requests with bytes equal to the low address byte.
func memoryHandler(payload string) []string {
	if !strings.HasPrefix(payload, "m") {
		return []string{""}
	}
	var addr, n uint32
	if _, err := fmt.Sscanf(payload, "m%x,%x", &addr, &n); err != nil {
		return []string{"E16"}
	}
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(addr + uint32(i))
	}
	return []string{hex.EncodeToString(data)}
}

func TestConnect_NegotiatesPacketSize(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string {
		return []string{"PacketSize=4000;qXfer:memory-map:read+"}
	}}
	c := newTestClient(f)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := c.PacketSize(); got != 0x4000 {
		t.Errorf("PacketSize() = 0x%X, want 0x4000", got)
	}
	if len(f.requests) != 1 || !strings.HasPrefix(f.requests[0], "qSupported") {
		t.Errorf("requests = %q, want one qSupported", f.requests)
	}
}

func TestConnect_KeepsDefaultPacketSize(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string { return []string{"swbreak+"} }}
	c := newTestClient(f)

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := c.PacketSize(); got != defaultPacketSize {
		t.Errorf("PacketSize() = 0x%X, want 0x%X", got, defaultPacketSize)
	}
}

func TestSend_RetransmitsOnNak(t *testing.T) {
	f := &fakeProbe{
		nakFirst: 2,
		handle:   func(string) []string { return []string{"00000080"} },
	}
	c := newTestClient(f)

	got, err := c.ReadRegister(target.RegPC)
	if err != nil {
		t.Fatalf("ReadRegister() error = %v", err)
	}
	if got != 0x80000000 {
		t.Errorf("ReadRegister(pc) = 0x%X, want 0x80000000", got)
	}
	if diff := cmp.Diff([]string{"p20"}, f.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_GivesUpAfterRetransmits(t *testing.T) {
	f := &fakeProbe{
		nakFirst: maxRetransmits,
		handle:   func(string) []string { return []string{"OK"} },
	}
	c := newTestClient(f)

	if err := c.WriteRegister(target.RegA0, 1); err == nil {
		t.Error("WriteRegister() succeeded after every attempt was rejected")
	}
}

func TestWriteRegister_Encoding(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string { return []string{"OK"} }}
	c := newTestClient(f)

	if err := c.WriteRegister(target.RegPC, 0x80000000); err != nil {
		t.Fatalf("WriteRegister() error = %v", err)
	}
	if err := c.WriteRegister(target.RegA0+1, 0x1234); err != nil {
		t.Fatalf("WriteRegister() error = %v", err)
	}
	want := []string{"P20=00000080", "Pb=34120000"}
	if diff := cmp.Diff(want, f.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMemory_Chunks(t *testing.T) {
	f := &fakeProbe{handle: memoryHandler}
	c := newTestClient(f)

	got, err := c.ReadMemory(0x100, 1024)
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if len(got) != 1024 {
		t.Fatalf("ReadMemory() returned %d bytes, want 1024", len(got))
	}
	for i, b := range got {
		if b != byte(0x100+i) {
			t.Fatalf("byte %d = 0x%02X, want 0x%02X", i, b, byte(0x100+i))
		}
	}

	want := []string{"m100,1fc", "m2fc,1fc", "m4f8,8"}
	if diff := cmp.Diff(want, f.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMemory_ShortReply(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string { return []string{"0102"} }}
	c := newTestClient(f)

	_, err := c.ReadMemory(0x2001FF30, 4)
	var sre *target.ShortReadError
	if !errors.As(err, &sre) {
		t.Fatalf("ReadMemory() error = %v, want *target.ShortReadError", err)
	}
	if sre.Got != 2 || sre.Want != 4 {
		t.Errorf("ShortReadError = %+v, want Got 2 Want 4", sre)
	}
}

func TestWriteMemory_Chunks(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string { return []string{"OK"} }}
	c := newTestClient(f)

	data := make([]byte, 1000)
	if err := c.WriteMemory(0x2800, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}

	chunk := c.maxWriteChunk()
	var want []string
	for off := 0; off < len(data); off += chunk {
		n := chunk
		if off+n > len(data) {
			n = len(data) - off
		}
		want = append(want, fmt.Sprintf("M%x,%x:%s", 0x2800+off, n, strings.Repeat("00", n)))
	}
	if diff := cmp.Diff(want, f.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestRequest_RemoteError(t *testing.T) {
	f := &fakeProbe{handle: func(string) []string { return []string{"E05"} }}
	c := newTestClient(f)

	err := c.WriteRegister(target.RegSP, 0x2800)
	var re *rsp.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("WriteRegister() error = %v, want *rsp.RemoteError", err)
	}
	if re.Code != 0x05 {
		t.Errorf("RemoteError.Code = 0x%02X, want 0x05", re.Code)
	}
}

func TestResumeAndPoll(t *testing.T) {
	f := &fakeProbe{stopDelay: 2}
	c := newTestClient(f)

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !c.Running() {
		t.Fatal("Running() = false after Resume()")
	}

	for i := 0; i < 2; i++ {
		halted, err := c.PollHalted()
		if err != nil || halted {
			t.Fatalf("poll %d: PollHalted() = %v, %v, want false, nil", i, halted, err)
		}
	}
	if _, err := c.ReadRegister(target.RegA0); !errors.Is(err, ErrRunning) {
		t.Errorf("ReadRegister() while running error = %v, want ErrRunning", err)
	}

	halted, err := c.PollHalted()
	if err != nil || !halted {
		t.Fatalf("PollHalted() = %v, %v, want true, nil", halted, err)
	}
	if c.Running() {
		t.Error("Running() = true after stop reply")
	}
}

func TestPollHalted_IdleCore(t *testing.T) {
	c := newTestClient(&fakeProbe{})
	halted, err := c.PollHalted()
	if err != nil || !halted {
		t.Errorf("PollHalted() = %v, %v, want true, nil", halted, err)
	}
}

func TestHalt_InterruptsRunningCore(t *testing.T) {
	f := &fakeProbe{stopDelay: neverStop}
	c := newTestClient(f)

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if halted, _ := c.PollHalted(); halted {
		t.Fatal("core halted without interrupt")
	}
	if err := c.Halt(); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}
	if f.breaks != 1 {
		t.Errorf("interrupts sent = %d, want 1", f.breaks)
	}
	if c.Running() {
		t.Error("Running() = true after Halt()")
	}
}

func TestMonitor_CollectsConsoleOutput(t *testing.T) {
	console := func(s string) string { return "O" + hex.EncodeToString([]byte(s)) }
	f := &fakeProbe{handle: func(string) []string {
		return []string{
			console("Target voltage: 3.3V\n"),
			console(" 1      RISC-V debug v0.13\n"),
			"OK",
		}
	}}
	c := newTestClient(f)

	out, err := c.Monitor("swd_scan")
	if err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	want := "Target voltage: 3.3V\n 1      RISC-V debug v0.13\n"
	if out != want {
		t.Errorf("Monitor() = %q, want %q", out, want)
	}
	if got, want := f.requests[0], "qRcmd,"+hex.EncodeToString([]byte("swd_scan")); got != want {
		t.Errorf("request = %q, want %q", got, want)
	}
}

func TestMonitor_Unsupported(t *testing.T) {
	c := newTestClient(&fakeProbe{})
	if _, err := c.Monitor("bogus"); err == nil {
		t.Error("Monitor() with empty reply succeeded")
	}
}

func TestAttach(t *testing.T) {
	f := &fakeProbe{handle: func(p string) []string {
		if p == "vAttach;1" {
			return []string{"T05thread:1;"}
		}
		return []string{"OK"}
	}}
	c := newTestClient(f)

	if err := c.Attach(1); err != nil {
		t.Fatalf("Attach(1) error = %v", err)
	}
	if err := c.Attach(2); err == nil {
		t.Error("Attach(2) accepted a non-stop reply")
	}
	if err := c.Detach(); err != nil {
		t.Errorf("Detach() error = %v", err)
	}
}

func TestAttach_QueriesHaltReasonAfterOK(t *testing.T) {
	f := &fakeProbe{handle: func(p string) []string {
		if p == "?" {
			return []string{"S05"}
		}
		return []string{"OK"}
	}}
	c := newTestClient(f)

	if err := c.Attach(1); err != nil {
		t.Fatalf("Attach(1) error = %v", err)
	}
	if diff := cmp.Diff([]string{"vAttach;1", "?"}, f.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}
