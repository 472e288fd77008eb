//go:build !linux

package session

import (
	"fmt"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/catalog"
)

// unsupportedControl stands in for the privileged control interface on
// platforms without performance monitoring support
type unsupportedControl struct {
	cat *catalog.Catalog
}

// NewControl returns the privileged control interface for this platform
func NewControl(cat *catalog.Catalog) Control {
	return unsupportedControl{cat: cat}
}

func (u unsupportedControl) CounterBounds() (int, int) {
	return u.cat.CounterBounds()
}

func (u unsupportedControl) CreateContext(int, alloc.Policy) error {
	return u.unsupported()
}

func (u unsupportedControl) Enable() error {
	return u.unsupported()
}

func (u unsupportedControl) WriteControls([]alloc.Assignment) error {
	return u.unsupported()
}

func (u unsupportedControl) WriteCounters([]CounterValue) error {
	return u.unsupported()
}

func (u unsupportedControl) Start() error {
	return u.unsupported()
}

func (u unsupportedControl) Stop() error {
	return u.unsupported()
}

func (u unsupportedControl) ReadCounters([]int) (ReadingSet, error) {
	return nil, u.unsupported()
}

func (u unsupportedControl) DestroyContext() error {
	return u.unsupported()
}

func (u unsupportedControl) unsupported() error {
	return fmt.Errorf("performance monitoring is only available on linux: %w", ErrUnsupportedPlatform)
}
