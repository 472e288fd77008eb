// Package report formats raw counter readings for display
package report

import (
	"fmt"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/session"
)

// Row is one formatted reading: the register it came from, the raw counter
// value and the resolved event name. Counter values are unsigned because
// hardware counters wrap instead of signaling overflow.
type Row struct {
	Register int
	Value    uint64
	Event    string
}

// String renders the row the way the original tool printed counter readings
func (r Row) String() string {
	return fmt.Sprintf("PMD%-2d %20d %s", r.Register, r.Value, r.Event)
}

// Format pairs readings with their assignments, one row per assignment.
// Row order follows assignment order rather than register numeric order,
// preserving the caller's original request order. Registers present in the
// readings but not in the assignments are ignored.
func Format(readings session.ReadingSet, assignments []alloc.Assignment) []Row {
	rows := make([]Row, 0, len(assignments))

	for _, a := range assignments {
		rows = append(rows, Row{
			Register: a.Register,
			Value:    readings[a.Register],
			Event:    a.Event.Name,
		})
	}

	return rows
}
