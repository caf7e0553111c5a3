// Package algo runs the XPI flash algorithm on a halted target core.
package algo

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/internal/target"
)

// State is the state of a single algorithm call.
type State int

const (
	Idle State = iota
	ArgsLoaded
	Running
	Completed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArgsLoaded:
		return "args-loaded"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultPollInterval is the delay between two halt polls.
const DefaultPollInterval = time.Millisecond

// Result describes a finished call.
type Result struct {
	State   State
	Status  uint32 // a0 at halt, valid when State is Completed
	Elapsed int    // poll iterations that reported the core running
}

// Dispatcher invokes algorithm entry points over a debug transport.
//
// A Dispatcher has no lock; calls against one target must be serialized.
type Dispatcher struct {
	t     target.Transport
	sleep func(time.Duration)
	state State
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSleep replaces the function used to wait between halt polls.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// NewDispatcher returns a Dispatcher driving t.
func NewDispatcher(t target.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		t:     t,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the state reached by the last call.
func (d *Dispatcher) State() State {
	return d.state
}

// Invoke runs the entry described by f and waits for the core to halt.
//
// The core must be halted with the algorithm loaded. A timed-out call
// leaves the core running; it is not halted again here. On success the
// returned error is nil; otherwise it is a transport error, ErrTimeout or
// a *StatusError.
func (d *Dispatcher) Invoke(f CallFrame) (Result, error) {
	d.state = Idle
	res := Result{State: Idle}

	regs, err := f.registers()
	if err != nil {
		return res, err
	}
	for _, r := range regs {
		if err := d.t.WriteRegister(r.index, r.value); err != nil {
			return res, fmt.Errorf("failed to set %s: %w", target.RegisterName(r.index), err)
		}
	}
	d.transition(&res, ArgsLoaded)

	if err := d.t.Resume(); err != nil {
		return res, fmt.Errorf("failed to resume core: %w", err)
	}
	d.transition(&res, Running)

	for res.Elapsed < f.Budget {
		halted, err := d.t.PollHalted()
		if err != nil {
			return res, fmt.Errorf("failed to poll halt status: %w", err)
		}
		if halted {
			break
		}
		d.sleep(DefaultPollInterval)
		res.Elapsed++
	}

	if res.Elapsed >= f.Budget {
		d.transition(&res, TimedOut)
		log.Debugf("%s: no halt after %d polls", f.Entry, res.Elapsed)
		return res, fmt.Errorf("%s: %w after %d polls", f.Entry, ErrTimeout, res.Elapsed)
	}
	d.transition(&res, Completed)

	status, err := d.t.ReadRegister(target.RegA0)
	if err != nil {
		return res, fmt.Errorf("failed to read result register: %w", err)
	}
	res.Status = status
	log.Debugf("%s: halted after %d polls, status 0x%X", f.Entry, res.Elapsed, status)

	if status != 0 {
		return res, &StatusError{Entry: f.Entry, Status: status}
	}
	return res, nil
}

func (d *Dispatcher) transition(res *Result, next State) {
	log.Tracef("algorithm call %s -> %s", d.state, next)
	d.state = next
	res.State = next
}
