package report

import (
	"strings"
	"testing"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/catalog"
	"github.com/hpmon/pmcmon/session"
)

func TestFormat(t *testing.T) {
	cat := catalog.New()

	cycles, err := cat.Resolve("cpu_cycles")
	if err != nil {
		t.Fatal(err)
	}

	retired, err := cat.Resolve("IA64_INST_RETIRED")
	if err != nil {
		t.Fatal(err)
	}

	// Assignment order deliberately disagrees with register numeric order
	assignments := []alloc.Assignment{
		{Event: retired, Register: 6},
		{Event: cycles, Register: 4},
	}

	readings := session.ReadingSet{
		4: 20500400,
		6: 1130900,
		7: 99, // not assigned, must not produce a row
	}

	rows := Format(readings, assignments)

	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %#v", rows)
	}

	expected := []Row{
		{Register: 6, Value: 1130900, Event: "instructions"},
		{Register: 4, Value: 20500400, Event: "cpu_cycles"},
	}

	for i, row := range rows {
		if row != expected[i] {
			t.Errorf("Expected row %d to be %#v, got %#v", i, expected[i], row)
		}
	}
}

func TestFormatEmpty(t *testing.T) {
	rows := Format(session.ReadingSet{}, nil)
	if len(rows) != 0 {
		t.Errorf("Expected no rows, got %#v", rows)
	}
}

func TestRowString(t *testing.T) {
	row := Row{Register: 4, Value: 20500400, Event: "cpu_cycles"}

	out := row.String()

	for _, want := range []string{"PMD4", "20500400", "cpu_cycles"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected row %q to contain %q", out, want)
		}
	}
}
