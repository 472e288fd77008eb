package catalog

// CounterBase is the register index of the first generic counter. Generic
// counters occupy PMD4..PMD7, matching the layout reported by the tool.
const CounterBase = 4

// numCounters is the capacity of the modeled generic PMU
const numCounters = 4

// Kernel perf event encodings for the generic hardware events
const (
	perfTypeHardware = 0

	hwCPUCycles          = 0
	hwInstructions       = 1
	hwCacheReferences    = 2
	hwCacheMisses        = 3
	hwBranchInstructions = 4
	hwBranchMisses       = 5
	hwBusCycles          = 6
	hwRefCPUCycles       = 9
)

const allCounters CounterMask = 1<<numCounters - 1

func counters(slots ...int) CounterMask {
	m := CounterMask(0)

	for _, slot := range slots {
		m |= 1 << uint(slot)
	}

	return m
}

// genericEvents is the built-in event table. Not every event can be measured
// by every counter: cache events are restricted to the lower counter pair,
// bus_cycles to the upper pair and ref_cycles to the first counter only.
var genericEvents = []Event{
	{Name: "cpu_cycles", PerfType: perfTypeHardware, PerfConfig: hwCPUCycles, Counters: allCounters},
	{Name: "instructions", PerfType: perfTypeHardware, PerfConfig: hwInstructions, Counters: allCounters},
	{Name: "cache_references", PerfType: perfTypeHardware, PerfConfig: hwCacheReferences, Counters: counters(0, 1)},
	{Name: "cache_misses", PerfType: perfTypeHardware, PerfConfig: hwCacheMisses, Counters: counters(0, 1)},
	{Name: "branch_instructions", PerfType: perfTypeHardware, PerfConfig: hwBranchInstructions, Counters: allCounters},
	{Name: "branch_misses", PerfType: perfTypeHardware, PerfConfig: hwBranchMisses, Counters: allCounters},
	{Name: "bus_cycles", PerfType: perfTypeHardware, PerfConfig: hwBusCycles, Counters: counters(2, 3)},
	{Name: "ref_cycles", PerfType: perfTypeHardware, PerfConfig: hwRefCPUCycles, Counters: counters(0)},
}

// genericAliases maps the spellings accepted by the original pfmon examples
// to catalog entries
var genericAliases = map[string]string{
	"cycles":            "cpu_cycles",
	"ia64_inst_retired": "instructions",
	"inst_retired":      "instructions",
	"branches":          "branch_instructions",
}
