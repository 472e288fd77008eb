// Package alloc negotiates the assignment of requested events to physical
// counter registers. It only computes a proposed configuration; applying it
// to hardware is the session's job.
package alloc

import (
	"errors"
	"fmt"

	"github.com/hpmon/pmcmon/catalog"
)

var (
	// ErrTooManyEvents is returned when more events are requested than the
	// platform has counters
	ErrTooManyEvents = errors.New("too many events")

	// ErrUnsatisfiableConstraint is returned when an event cannot be placed
	// on any remaining free register
	ErrUnsatisfiableConstraint = errors.New("unsatisfiable placement constraint")
)

// Privilege selects which privilege levels are counted, mirroring the
// PFM_PLM privilege masks of the original interface
type Privilege int

const (
	// PrivilegeKernel counts kernel-level execution only (PFM_PLM0)
	PrivilegeKernel Privilege = iota
	// PrivilegeUser counts user-level execution only (PFM_PLM3)
	PrivilegeUser
	// PrivilegeAll counts both levels
	PrivilegeAll
)

// String returns the config-file spelling of the privilege level
func (p Privilege) String() string {
	switch p {
	case PrivilegeKernel:
		return "kernel"
	case PrivilegeUser:
		return "user"
	case PrivilegeAll:
		return "all"
	}

	return fmt.Sprintf("privilege(%d)", int(p))
}

// ParsePrivilege parses the config-file spelling of a privilege level
func ParsePrivilege(s string) (Privilege, error) {
	switch s {
	case "kernel":
		return PrivilegeKernel, nil
	case "user":
		return PrivilegeUser, nil
	case "all":
		return PrivilegeAll, nil
	}

	return 0, fmt.Errorf("unknown privilege level %q", s)
}

// Policy carries the control bits stamped onto every assignment
type Policy struct {
	Privilege  Privilege
	SystemWide bool
}

// Assignment binds one event to one physical counter register together with
// the control bits needed to enable it
type Assignment struct {
	Event      catalog.Event
	Register   int
	Privilege  Privilege
	SystemWide bool
}

// Allocate places events onto counter registers first-fit in request order,
// preferring the lowest eligible free register for each event. It consults
// the catalog's per-event eligibility masks rather than assuming uniform
// register capability. The returned assignments preserve request order and
// reference distinct registers.
func Allocate(cat *catalog.Catalog, events []catalog.Event, policy Policy) ([]Assignment, error) {
	capacity := cat.NumCounters()

	if len(events) > capacity {
		return nil, fmt.Errorf("requested %d events with only %d counters: %w", len(events), capacity, ErrTooManyEvents)
	}

	assignments := make([]Assignment, 0, len(events))
	taken := make([]bool, capacity)

	for _, ev := range events {
		slot := -1

		for n := 0; n < capacity; n++ {
			if !taken[n] && ev.Counters.Eligible(n) {
				slot = n
				break
			}
		}

		if slot < 0 {
			return nil, fmt.Errorf("no free counter can host event %q: %w", ev.Name, ErrUnsatisfiableConstraint)
		}

		taken[slot] = true

		assignments = append(assignments, Assignment{
			Event:      ev,
			Register:   catalog.CounterBase + slot,
			Privilege:  policy.Privilege,
			SystemWide: policy.SystemWide,
		})
	}

	return assignments, nil
}
