// Package probe talks to a debug probe's GDB server and exposes the
// attached core as a target.Transport.
package probe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/rsp"
	"github.com/bigbag/hpm-flasher/internal/target"
)

const (
	defaultPacketSize = 0x400
	maxRetransmits    = 3
	readChunkTimeout  = 20 * time.Millisecond
)

var (
	// ErrNoReply is returned when the probe did not answer in time.
	ErrNoReply = errors.New("timeout waiting for probe reply")

	// ErrRunning is returned for register or memory access while the core runs.
	ErrRunning = errors.New("target is running")
)

// Port is the byte link to the probe.
type Port interface {
	Write(data []byte) (int, error)
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
}

// Client is a GDB remote protocol client for one attached target.
type Client struct {
	port       Port
	timeout    time.Duration
	packetSize int

	rx      []byte
	running bool
}

var _ target.Transport = (*Client)(nil)

// New creates a Client on port. timeout bounds each request/reply exchange.
func New(port Port, timeout time.Duration) *Client {
	return &Client{
		port:       port,
		timeout:    timeout,
		packetSize: defaultPacketSize,
	}
}

// PacketSize returns the packet size negotiated with the probe.
func (c *Client) PacketSize() int {
	return c.packetSize
}

// Running reports whether the core was resumed and has not stopped yet.
func (c *Client) Running() bool {
	return c.running
}

// Connect synchronizes with the probe and negotiates the packet size.
func (c *Client) Connect() error {
	c.port.Flush()
	c.rx = nil

	// A lone ack resynchronizes a probe left waiting by a previous session.
	if _, err := c.port.Write([]byte{rsp.Ack}); err != nil {
		return err
	}

	reply, err := c.request(rsp.Supported())
	if err != nil {
		return fmt.Errorf("qSupported failed: %w", err)
	}

	if v, ok := reply.Features()["PacketSize"]; ok {
		size, err := strconv.ParseUint(v, 16, 32)
		if err == nil && size >= 64 {
			c.packetSize = int(size)
		}
	}
	log.Debugf("probe packet size 0x%X", c.packetSize)
	return nil
}

// Monitor runs a probe monitor command and returns its console output.
func (c *Client) Monitor(cmd string) (string, error) {
	if err := c.send(rsp.Monitor(cmd)); err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		reply, err := c.readPacket(c.timeout)
		if err != nil {
			return out.String(), fmt.Errorf("monitor %q: %w", cmd, err)
		}
		switch {
		case reply.IsConsole():
			out.WriteString(reply.Console())
		case reply.IsOK():
			return out.String(), nil
		case reply.IsError():
			return out.String(), &rsp.RemoteError{Request: "monitor " + cmd, Code: reply.ErrorCode()}
		case reply.IsEmpty():
			return out.String(), fmt.Errorf("monitor %q: not supported by probe", cmd)
		default:
			// Some servers answer with bare hex output.
			b, err := reply.Bytes()
			if err != nil {
				return out.String(), fmt.Errorf("monitor %q: %w", cmd, err)
			}
			out.Write(b)
			return out.String(), nil
		}
	}
}

// Scan runs the probe's target scan command and returns its report.
func (c *Client) Scan(cmd string) (string, error) {
	out, err := c.Monitor(cmd)
	if err != nil {
		return out, fmt.Errorf("scan failed: %w", err)
	}
	log.Debugf("scan:\n%s", strings.TrimRight(out, "\n"))
	return out, nil
}

// Interrupt asks the probe to halt a running core. The stop reply is
// collected by PollHalted.
func (c *Client) Interrupt() error {
	_, err := c.port.Write([]byte{rsp.Break})
	return err
}

// Attach attaches to target n of the last scan and leaves it halted.
func (c *Client) Attach(n int) error {
	reply, err := c.request(rsp.Attach(n))
	if err != nil {
		return fmt.Errorf("attach %d: %w", n, err)
	}
	if reply.IsOK() {
		// Attached without a stop reply; ask for the halt reason.
		if reply, err = c.request(rsp.HaltReason()); err != nil {
			return fmt.Errorf("attach %d: %w", n, err)
		}
	}
	if !reply.IsStop() {
		return fmt.Errorf("attach %d: unexpected reply %q", n, string(reply))
	}
	c.running = false
	return nil
}

// Detach releases the target.
func (c *Client) Detach() error {
	reply, err := c.request(rsp.Detach())
	if err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	if !reply.IsOK() {
		return fmt.Errorf("detach: unexpected reply %q", string(reply))
	}
	return nil
}

// Halt interrupts a running core and waits for its stop reply.
func (c *Client) Halt() error {
	if !c.running {
		return nil
	}
	if err := c.Interrupt(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		halted, err := c.PollHalted()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
	return fmt.Errorf("halt: %w", ErrNoReply)
}

// ReadMemory implements target.Transport.
func (c *Client) ReadMemory(addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	chunk := c.maxReadChunk()
	for len(out) < n {
		size := n - len(out)
		if size > chunk {
			size = chunk
		}
		a := addr + uint32(len(out))
		reply, err := c.request(rsp.ReadMemory(a, size))
		if err != nil {
			return nil, err
		}
		data, err := reply.Bytes()
		if err != nil {
			return nil, err
		}
		if len(data) < size {
			return nil, &target.ShortReadError{Addr: a, Want: size, Got: len(data)}
		}
		out = append(out, data[:size]...)
	}
	return out, nil
}

// WriteMemory implements target.Transport.
func (c *Client) WriteMemory(addr uint32, data []byte) error {
	chunk := c.maxWriteChunk()
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if err := c.requestOK(rsp.WriteMemory(addr+uint32(off), data[off:end])); err != nil {
			return err
		}
	}
	return nil
}

// ReadRegister implements target.Transport.
func (c *Client) ReadRegister(index int) (uint32, error) {
	reply, err := c.request(rsp.ReadRegister(index))
	if err != nil {
		return 0, err
	}
	return reply.Uint32()
}

// WriteRegister implements target.Transport.
func (c *Client) WriteRegister(index int, value uint32) error {
	return c.requestOK(rsp.WriteRegister(index, value))
}

// Resume implements target.Transport. The stop reply is collected by
// PollHalted.
func (c *Client) Resume() error {
	if c.running {
		return ErrRunning
	}
	if err := c.send(rsp.Continue()); err != nil {
		return err
	}
	c.running = true
	return nil
}

// PollHalted implements target.Transport. It never blocks for longer than
// one short read.
func (c *Client) PollHalted() (bool, error) {
	if !c.running {
		return true, nil
	}

	reply, err := c.readPacket(0)
	if errors.Is(err, ErrNoReply) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch {
	case reply.IsStop():
		log.Tracef("core stopped, signal %d", reply.Signal())
		c.running = false
		return true, nil
	case reply.IsConsole():
		log.Info(strings.TrimRight(reply.Console(), "\n"))
		return false, nil
	case len(reply) > 0 && (reply[0] == 'W' || reply[0] == 'X'):
		c.running = false
		return false, fmt.Errorf("target exited: %q", string(reply))
	default:
		return false, fmt.Errorf("unexpected packet while running: %q", string(reply))
	}
}

func (c *Client) maxReadChunk() int {
	return ((c.packetSize - 4) / 2) &^ 3
}

func (c *Client) maxWriteChunk() int {
	return ((c.packetSize - 32) / 2) &^ 3
}

// requestOK sends payload and expects an "OK" reply.
func (c *Client) requestOK(payload []byte) error {
	reply, err := c.request(payload)
	if err != nil {
		return err
	}
	if !reply.IsOK() {
		return fmt.Errorf("unexpected reply %q to %q", string(reply), payload)
	}
	return nil
}

// request sends payload and returns the first reply that is not console
// output. "Enn" replies are returned as *rsp.RemoteError.
func (c *Client) request(payload []byte) (rsp.Reply, error) {
	if c.running {
		return nil, ErrRunning
	}
	if err := c.send(payload); err != nil {
		return nil, err
	}

	for {
		reply, err := c.readPacket(c.timeout)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", payload, err)
		}
		if reply.IsConsole() {
			log.Info(strings.TrimRight(reply.Console(), "\n"))
			continue
		}
		if reply.IsError() {
			return nil, &rsp.RemoteError{Request: string(payload), Code: reply.ErrorCode()}
		}
		return reply, nil
	}
}

// send writes a framed packet and waits for the probe to acknowledge it,
// retransmitting on NAK.
func (c *Client) send(payload []byte) error {
	frame := rsp.Encode(payload)
	log.Tracef("-> %s", payload)

	for attempt := 0; attempt < maxRetransmits; attempt++ {
		if _, err := c.port.Write(frame); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
		ack, err := c.readAck()
		if err != nil {
			return err
		}
		if ack == rsp.Ack {
			return nil
		}
		log.Debugf("probe rejected %q, retransmitting", payload)
	}
	return fmt.Errorf("packet %q rejected %d times", payload, maxRetransmits)
}

// readAck consumes bytes up to the next '+' or '-'. A packet start counts
// as an acknowledgement and is left in the buffer.
func (c *Client) readAck() (byte, error) {
	deadline := time.Now().Add(c.timeout)
	for {
		for len(c.rx) > 0 {
			b := c.rx[0]
			switch b {
			case rsp.Ack, rsp.Nak:
				c.rx = c.rx[1:]
				return b, nil
			case rsp.Start:
				return rsp.Ack, nil
			}
			c.rx = c.rx[1:]
		}
		if !time.Now().Before(deadline) {
			return 0, fmt.Errorf("waiting for ack: %w", ErrNoReply)
		}
		if err := c.fill(readChunkTimeout); err != nil {
			return 0, err
		}
	}
}

// readPacket returns the next packet, acknowledging it. At least one read
// is attempted even when timeout is zero.
func (c *Client) readPacket(timeout time.Duration) (rsp.Reply, error) {
	deadline := time.Now().Add(timeout)
	for first := true; ; first = false {
		frame, _, rest := rsp.ReadFrame(c.rx)
		c.rx = rest
		if frame != nil {
			payload, err := rsp.Decode(frame)
			if err != nil {
				log.Debugf("dropping bad packet: %v", err)
				if _, err := c.port.Write([]byte{rsp.Nak}); err != nil {
					return nil, err
				}
				continue
			}
			if _, err := c.port.Write([]byte{rsp.Ack}); err != nil {
				return nil, err
			}
			log.Tracef("<- %s", payload)
			return rsp.Reply(payload), nil
		}

		wait := time.Until(deadline)
		if !first && wait <= 0 {
			return nil, ErrNoReply
		}
		if wait > readChunkTimeout {
			wait = readChunkTimeout
		}
		if wait < 0 {
			wait = 0
		}
		if err := c.fill(wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) fill(timeout time.Duration) error {
	buf := make([]byte, 512)
	n, err := c.port.ReadWithTimeout(buf, timeout)
	if n > 0 {
		c.rx = append(c.rx, buf[:n]...)
	}
	if err != nil && n == 0 {
		return fmt.Errorf("failed to read from probe: %w", err)
	}
	return nil
}
