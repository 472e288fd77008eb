package session_test

import (
	"errors"
	"testing"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/catalog"
	"github.com/hpmon/pmcmon/report"
	"github.com/hpmon/pmcmon/session"
)

// memControl is an in-memory control interface whose counters advance by a
// fixed amount every time they are started
type memControl struct {
	lo, hi   int
	counters map[int]uint64
	running  bool
}

func newMemControl() *memControl {
	return &memControl{
		lo:       catalog.CounterBase,
		hi:       catalog.CounterBase + 3,
		counters: map[int]uint64{},
	}
}

func (m *memControl) CounterBounds() (int, int) {
	return m.lo, m.hi
}

func (m *memControl) CreateContext(int, alloc.Policy) error {
	return nil
}

func (m *memControl) Enable() error {
	return nil
}

func (m *memControl) WriteControls([]alloc.Assignment) error {
	return nil
}

func (m *memControl) WriteCounters(values []session.CounterValue) error {
	for _, v := range values {
		m.counters[v.Register] = v.Value
	}

	return nil
}

func (m *memControl) Start() error {
	m.running = true

	for reg := range m.counters {
		m.counters[reg] += 1000 + uint64(reg)
	}

	return nil
}

func (m *memControl) Stop() error {
	m.running = false
	return nil
}

func (m *memControl) ReadCounters(registers []int) (session.ReadingSet, error) {
	out := session.ReadingSet{}

	for _, reg := range registers {
		out[reg] = m.counters[reg]
	}

	return out, nil
}

func (m *memControl) DestroyContext() error {
	return nil
}

// TestMeasurementScenario runs the whole pipeline the way the binary does:
// resolve, allocate, full session lifecycle, format.
func TestMeasurementScenario(t *testing.T) {
	cat := catalog.New()
	policy := alloc.Policy{Privilege: alloc.PrivilegeKernel, SystemWide: true}

	names := []string{"cpu_cycles", "IA64_INST_RETIRED"}
	events := make([]catalog.Event, 0, len(names))

	for _, name := range names {
		ev, err := cat.Resolve(name)
		if err != nil {
			t.Fatal(err)
		}

		events = append(events, ev)
	}

	assignments, err := alloc.Allocate(cat, events, policy)
	if err != nil {
		t.Fatal(err)
	}

	if len(assignments) != 2 {
		t.Fatalf("Expected 2 assignments, got %#v", assignments)
	}

	sess, err := session.Create(newMemControl(), 0, policy)
	if err != nil {
		t.Fatal(err)
	}

	if err := sess.Arm(assignments); err != nil {
		t.Fatal(err)
	}

	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}

	if err := sess.Stop(); err != nil {
		t.Fatal(err)
	}

	readings, err := sess.Read()
	if err != nil {
		t.Fatal(err)
	}

	rows := report.Format(readings, assignments)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %#v", rows)
	}

	for i, row := range rows {
		if row.Event != assignments[i].Event.Name {
			t.Errorf("Row %d is out of request order: %#v", i, row)
		}

		if row.Value == 0 {
			t.Errorf("Expected a non-zero counter value in row %d: %#v", i, row)
		}
	}

	if err := sess.Destroy(); err != nil {
		t.Fatal(err)
	}
}

// TestTooManyEventsScenario requests five events against four counters: the
// allocation fails up front and no session is ever created.
func TestTooManyEventsScenario(t *testing.T) {
	cat := catalog.New()

	names := []string{"cpu_cycles", "instructions", "cache_references", "branch_misses", "bus_cycles"}
	events := make([]catalog.Event, 0, len(names))

	for _, name := range names {
		ev, err := cat.Resolve(name)
		if err != nil {
			t.Fatal(err)
		}

		events = append(events, ev)
	}

	_, err := alloc.Allocate(cat, events, alloc.Policy{})
	if !errors.Is(err, alloc.ErrTooManyEvents) {
		t.Fatalf("Expected ErrTooManyEvents, got: %v", err)
	}
}

// TestUnknownEventScenario fails resolution before any allocation happens
func TestUnknownEventScenario(t *testing.T) {
	cat := catalog.New()

	_, err := cat.Resolve("bogus_event")
	if !errors.Is(err, catalog.ErrUnknownEvent) {
		t.Fatalf("Expected ErrUnknownEvent, got: %v", err)
	}
}
