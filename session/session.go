// Package session owns the lifecycle of one counter monitoring session
// against one CPU. All hardware access goes through the Control interface,
// which mirrors the operation vocabulary of the privileged perfmon control
// interface the original tool talked to.
package session

import (
	"errors"
	"fmt"

	"github.com/hpmon/pmcmon/alloc"
)

var (
	// ErrPermissionDenied is returned when the caller lacks the privilege
	// required by the control interface
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnsupportedPlatform is returned when the control interface is not
	// available on this kernel or platform
	ErrUnsupportedPlatform = errors.New("platform does not support performance monitoring")

	// ErrResourceExhausted is returned when the kernel-side context limit
	// is reached
	ErrResourceExhausted = errors.New("monitoring resources exhausted")

	// ErrInvalidAssignment is returned when an assignment references a
	// register the hardware does not have
	ErrInvalidAssignment = errors.New("invalid counter assignment")

	// ErrInvalidState is returned when an operation is attempted outside
	// its legal source state
	ErrInvalidState = errors.New("invalid session state")
)

// State is a session lifecycle state
type State int

// Session lifecycle states. StateDestroyed is terminal.
const (
	StateUninitialized State = iota
	StateCreated
	StateArmed
	StateRunning
	StateStopped
	StateDestroyed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// ReadingSet is a snapshot of raw counter values keyed by register index.
// When taken from a running session there is no consistency guarantee
// across registers.
type ReadingSet map[int]uint64

// CounterValue is an initial value for one counter register
type CounterValue struct {
	Register int
	Value    uint64
}

// Control is the privileged control interface a session drives. Every call
// may fail for reasons outside the session's control (permission, resource
// exhaustion, platform absence); such failures are surfaced and never
// retried.
type Control interface {
	CreateContext(cpu int, policy alloc.Policy) error
	Enable() error
	WriteControls(assignments []alloc.Assignment) error
	WriteCounters(values []CounterValue) error
	Start() error
	Stop() error
	ReadCounters(registers []int) (ReadingSet, error)
	DestroyContext() error

	// CounterBounds returns the inclusive range of valid counter registers
	CounterBounds() (int, int)
}

// Session is one binding between the calling process and one target CPU.
// Operations must be issued in program order by a single owner; concurrent
// use requires external serialization.
type Session struct {
	ctl         Control
	cpu         int
	policy      alloc.Policy
	state       State
	assignments []alloc.Assignment
	registers   []int
}

// Create requests a monitoring context bound to exactly one CPU. On Linux
// this pins the calling thread to that CPU for the session's duration.
func Create(ctl Control, cpu int, policy alloc.Policy) (*Session, error) {
	if cpu < 0 {
		return nil, fmt.Errorf("invalid cpu index %d", cpu)
	}

	if err := ctl.CreateContext(cpu, policy); err != nil {
		return nil, fmt.Errorf("error creating context on cpu %d: %w", cpu, err)
	}

	// Unfreeze the context before any register access. If this fails the
	// context is reclaimed here, since no session is handed to the caller.
	if err := ctl.Enable(); err != nil {
		_ = ctl.DestroyContext()
		return nil, fmt.Errorf("error enabling context on cpu %d: %w", cpu, err)
	}

	return &Session{
		ctl:    ctl,
		cpu:    cpu,
		policy: policy,
		state:  StateCreated,
	}, nil
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return s.state
}

// CPU returns the target CPU index
func (s *Session) CPU() int {
	return s.cpu
}

// Assignments returns the armed assignments in request order
func (s *Session) Assignments() []alloc.Assignment {
	out := make([]alloc.Assignment, len(s.assignments))
	copy(out, s.assignments)

	return out
}

// Arm writes the control bits for every assignment, then zeroes the counters
// they reference. It must be called exactly once, from the created state.
func (s *Session) Arm(assignments []alloc.Assignment) error {
	if s.state != StateCreated {
		return s.stateError("arm")
	}

	if len(assignments) == 0 {
		return fmt.Errorf("no assignments to arm: %w", ErrInvalidAssignment)
	}

	lo, hi := s.ctl.CounterBounds()
	seen := map[int]bool{}

	for _, a := range assignments {
		if a.Register < lo || a.Register > hi {
			return fmt.Errorf("assignment for event %q references register %d outside %d..%d: %w", a.Event.Name, a.Register, lo, hi, ErrInvalidAssignment)
		}

		if seen[a.Register] {
			return fmt.Errorf("register %d referenced by more than one assignment: %w", a.Register, ErrInvalidAssignment)
		}

		seen[a.Register] = true
	}

	if err := s.ctl.WriteControls(assignments); err != nil {
		return fmt.Errorf("error writing control registers: %w", err)
	}

	values := make([]CounterValue, len(assignments))
	for i, a := range assignments {
		values[i] = CounterValue{Register: a.Register}
	}

	if err := s.ctl.WriteCounters(values); err != nil {
		return fmt.Errorf("error writing initial counter values: %w", err)
	}

	s.assignments = make([]alloc.Assignment, len(assignments))
	copy(s.assignments, assignments)

	s.registers = make([]int, len(assignments))
	for i, a := range assignments {
		s.registers[i] = a.Register
	}

	s.state = StateArmed

	return nil
}

// Start activates counting. Counting cannot be toggled at user privilege
// alone, so this always goes through the control interface.
func (s *Session) Start() error {
	if s.state != StateArmed {
		return s.stateError("start")
	}

	if err := s.ctl.Start(); err != nil {
		return fmt.Errorf("error starting counters: %w", err)
	}

	s.state = StateRunning

	return nil
}

// Stop freezes the counters. They retain their last values and remain
// readable until the session is destroyed.
func (s *Session) Stop() error {
	if s.state != StateRunning {
		return s.stateError("stop")
	}

	if err := s.ctl.Stop(); err != nil {
		return fmt.Errorf("error stopping counters: %w", err)
	}

	s.state = StateStopped

	return nil
}

// Read returns the current value of every register the session armed.
// Reading a running session returns a live snapshot with no cross-register
// consistency guarantee. Registers the control interface reports beyond the
// armed set are filtered out.
func (s *Session) Read() (ReadingSet, error) {
	if s.state != StateArmed && s.state != StateRunning && s.state != StateStopped {
		return nil, s.stateError("read")
	}

	readings, err := s.ctl.ReadCounters(s.registers)
	if err != nil {
		return nil, fmt.Errorf("error reading counters: %w", err)
	}

	out := ReadingSet{}

	for _, reg := range s.registers {
		value, ok := readings[reg]
		if !ok {
			return nil, fmt.Errorf("control interface returned no value for register %d", reg)
		}

		out[reg] = value
	}

	return out, nil
}

// Destroy releases the kernel-side context. It is legal from any non-terminal
// state after creation and implicitly stops a running session. The session is
// terminal afterwards even if the control interface reported an error, so a
// second call always fails with ErrInvalidState.
func (s *Session) Destroy() error {
	switch s.state {
	case StateCreated, StateArmed, StateRunning, StateStopped:
	default:
		return s.stateError("destroy")
	}

	var stopErr error
	if s.state == StateRunning {
		stopErr = s.ctl.Stop()
	}

	s.state = StateDestroyed

	if err := s.ctl.DestroyContext(); err != nil {
		return fmt.Errorf("error destroying context: %w", err)
	}

	if stopErr != nil {
		return fmt.Errorf("error stopping counters before destroy: %w", stopErr)
	}

	return nil
}

func (s *Session) stateError(op string) error {
	return fmt.Errorf("cannot %s session in state %q: %w", op, s.state, ErrInvalidState)
}
