package catalog

import (
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnknownEvent is returned when a name does not resolve to any catalog entry
var ErrUnknownEvent = errors.New("unknown event")

// resolveCacheSize bounds the cache of resolved names. Prefix resolution
// scans the whole table, so repeated lookups go through the cache instead.
const resolveCacheSize = 128

// CounterMask is a bitmask of counter slots an event may be placed on.
// Bit n corresponds to register CounterBase+n.
type CounterMask uint64

// Eligible returns whether slot n is set in the mask
func (m CounterMask) Eligible(n int) bool {
	return n >= 0 && n < 64 && m&(1<<uint(n)) != 0
}

// Event is a hardware-countable event resolved from a name. It is immutable
// once resolved. PerfType and PerfConfig carry the encoding consumed by the
// kernel-facing control backend and are opaque to everything else.
type Event struct {
	Name       string
	PerfType   uint32
	PerfConfig uint64
	Counters   CounterMask
}

// Catalog is the fixed, read-only event table loaded once at process start.
// It answers name to event lookups and describes the counter file of the
// modeled PMU: how many counters exist and which register indexes they occupy.
type Catalog struct {
	events  []Event
	byName  map[string]int
	byAlias map[string]int
	cache   *lru.Cache[string, Event]
}

// New builds a catalog from the built-in generic event table
func New() *Catalog {
	c := &Catalog{
		events:  genericEvents,
		byName:  map[string]int{},
		byAlias: map[string]int{},
	}

	for i, ev := range c.events {
		c.byName[ev.Name] = i
	}

	for alias, name := range genericAliases {
		c.byAlias[alias] = c.byName[name]
	}

	// Size is a positive constant, so this cannot fail
	cache, err := lru.New[string, Event](resolveCacheSize)
	if err != nil {
		panic(err)
	}

	c.cache = cache

	return c
}

// NumCounters returns how many counters can be programmed simultaneously
func (c *Catalog) NumCounters() int {
	return numCounters
}

// CounterBounds returns the inclusive range of valid counter register indexes
func (c *Catalog) CounterBounds() (int, int) {
	return CounterBase, CounterBase + numCounters - 1
}

// Names returns the names of all catalog entries in table order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.events))

	for i, ev := range c.events {
		names[i] = ev.Name
	}

	return names
}

// Resolve maps a human-readable event name to its catalog entry. Matching is
// case-insensitive and accepts aliases and unique prefixes, the way pfmlib
// resolves event names. Resolution is pure: it never touches hardware state.
func (c *Catalog) Resolve(name string) (Event, error) {
	key := strings.ToLower(name)

	if ev, ok := c.cache.Get(key); ok {
		return ev, nil
	}

	ev, err := c.resolve(key)
	if err != nil {
		return Event{}, fmt.Errorf("error resolving event %q: %w", name, err)
	}

	c.cache.Add(key, ev)

	return ev, nil
}

func (c *Catalog) resolve(key string) (Event, error) {
	if i, ok := c.byName[key]; ok {
		return c.events[i], nil
	}

	if i, ok := c.byAlias[key]; ok {
		return c.events[i], nil
	}

	// Fall back to unique prefix match over names and aliases
	found := -1

	for name, i := range c.byName {
		if strings.HasPrefix(name, key) {
			if found >= 0 && found != i {
				return Event{}, ErrUnknownEvent
			}
			found = i
		}
	}

	for alias, i := range c.byAlias {
		if strings.HasPrefix(alias, key) {
			if found >= 0 && found != i {
				return Event{}, ErrUnknownEvent
			}
			found = i
		}
	}

	if found < 0 {
		return Event{}, ErrUnknownEvent
	}

	return c.events[found], nil
}
