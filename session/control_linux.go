//go:build linux

package session

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"syscall"

	"github.com/elastic/go-perf"
	"github.com/iovisor/gobpf/pkg/cpuonline"
	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/cap"

	"github.com/hpmon/pmcmon/alloc"
	"github.com/hpmon/pmcmon/catalog"
	"github.com/hpmon/pmcmon/kernel_version"
)

// perf_event_open appeared in 2.6.31
const minimumKernelConstraint = ">= 2.6.31"

var kernelVersionRegex = regexp.MustCompile(`^\d+\.\d+(\.\d+)?`)

// perfControl implements Control on top of the kernel perf interface.
// Each armed assignment becomes one counting event bound to the target CPU,
// created disabled so that start and stop drive all counters together.
type perfControl struct {
	cat     *catalog.Catalog
	cpu     int
	policy  alloc.Policy
	events  map[int]*perf.Event
	offsets map[int]uint64
}

// NewControl returns the privileged control interface for this platform
func NewControl(cat *catalog.Catalog) Control {
	return &perfControl{
		cat:     cat,
		cpu:     -1,
		events:  map[int]*perf.Event{},
		offsets: map[int]uint64{},
	}
}

func (p *perfControl) CounterBounds() (int, int) {
	return p.cat.CounterBounds()
}

func (p *perfControl) CreateContext(cpu int, policy alloc.Policy) error {
	if !perf.Supported() {
		return fmt.Errorf("perf events are not available on this kernel: %w", ErrUnsupportedPlatform)
	}

	kernelVersion, err := kernel_version.GetAndParseKernelVersion(kernelVersionRegex)
	if err != nil {
		return fmt.Errorf("error determining kernel version: %v", err)
	}

	constraint, err := kernel_version.ParseKernelVersionConstraint(minimumKernelConstraint)
	if err != nil {
		return fmt.Errorf("error parsing kernel version constraint %q: %v", minimumKernelConstraint, err)
	}

	if !kernel_version.ApplyKernelVersionConstraint(kernelVersion, constraint) {
		return fmt.Errorf("kernel %s does not satisfy %q: %w", kernelVersion, minimumKernelConstraint, ErrUnsupportedPlatform)
	}

	if policy.SystemWide && !monitoringCapable() {
		return fmt.Errorf("system-wide monitoring requires CAP_PERFMON or CAP_SYS_ADMIN: %w", ErrPermissionDenied)
	}

	cpus, err := cpuonline.Get()
	if err != nil {
		return fmt.Errorf("error determining online cpus: %v", err)
	}

	online := false
	for _, c := range cpus {
		if int(c) == cpu {
			online = true
			break
		}
	}

	if !online {
		return fmt.Errorf("cpu %d is not online", cpu)
	}

	// Pin the calling thread to the monitored CPU for the session's
	// lifetime, the way creating a system-wide perfmon context pinned the
	// caller in the kernel.
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return classifyErrno(fmt.Sprintf("error pinning thread to cpu %d", cpu), err)
	}

	p.cpu = cpu
	p.policy = policy

	return nil
}

// Enable unfreezes the context. The perf interface has no context-level
// freeze: events are created disabled and flipped by Start, so there is
// nothing to do here beyond checking that a context exists.
func (p *perfControl) Enable() error {
	if p.cpu < 0 {
		return fmt.Errorf("no context to enable: %w", ErrInvalidState)
	}

	return nil
}

func (p *perfControl) WriteControls(assignments []alloc.Assignment) error {
	for _, a := range assignments {
		fa := &perf.Attr{
			Label:  a.Event.Name,
			Type:   perf.EventType(a.Event.PerfType),
			Config: a.Event.PerfConfig,
		}

		fa.Options.Disabled = true

		switch a.Privilege {
		case alloc.PrivilegeKernel:
			fa.Options.ExcludeUser = true
			fa.Options.ExcludeHypervisor = true
		case alloc.PrivilegeUser:
			fa.Options.ExcludeKernel = true
			fa.Options.ExcludeHypervisor = true
		}

		target := perf.CallingThread
		if a.SystemWide {
			target = perf.AllThreads
		}

		ev, err := perf.Open(fa, target, p.cpu, nil)
		if err != nil {
			return classifyErrno(fmt.Sprintf("error programming register %d for event %q", a.Register, a.Event.Name), err)
		}

		p.events[a.Register] = ev
	}

	return nil
}

// WriteCounters sets initial counter values. Perf counters cannot be written
// directly, so initial values are carried as offsets added to every read.
func (p *perfControl) WriteCounters(values []CounterValue) error {
	for _, v := range values {
		if _, ok := p.events[v.Register]; !ok {
			return fmt.Errorf("register %d has no programmed control: %w", v.Register, ErrInvalidAssignment)
		}

		p.offsets[v.Register] = v.Value
	}

	return nil
}

func (p *perfControl) Start() error {
	for reg, ev := range p.events {
		if err := ev.Enable(); err != nil {
			return classifyErrno(fmt.Sprintf("error starting counter %d", reg), err)
		}
	}

	return nil
}

func (p *perfControl) Stop() error {
	for reg, ev := range p.events {
		if err := ev.Disable(); err != nil {
			return classifyErrno(fmt.Sprintf("error stopping counter %d", reg), err)
		}
	}

	return nil
}

func (p *perfControl) ReadCounters(registers []int) (ReadingSet, error) {
	out := ReadingSet{}

	for _, reg := range registers {
		ev, ok := p.events[reg]
		if !ok {
			return nil, fmt.Errorf("register %d has no programmed control: %w", reg, ErrInvalidAssignment)
		}

		count, err := ev.ReadCount()
		if err != nil {
			return nil, classifyErrno(fmt.Sprintf("error reading counter %d", reg), err)
		}

		out[reg] = p.offsets[reg] + count.Value
	}

	return out, nil
}

func (p *perfControl) DestroyContext() error {
	var firstErr error

	for reg, ev := range p.events {
		if err := ev.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error releasing counter %d: %v", reg, err)
		}
	}

	p.events = map[int]*perf.Event{}
	p.offsets = map[int]uint64{}
	p.cpu = -1

	return firstErr
}

// monitoringCapable reports whether the process holds a capability that
// permits system-wide monitoring. CAP_PERFMON is the dedicated capability
// on newer kernels, CAP_SYS_ADMIN covers older ones.
func monitoringCapable() bool {
	if os.Geteuid() == 0 {
		return true
	}

	for _, value := range []cap.Value{cap.PERFMON, cap.SYS_ADMIN} {
		allowed, err := cap.GetProc().GetFlag(cap.Effective, value)
		if err == nil && allowed {
			return true
		}
	}

	return false
}

// classifyErrno maps control interface errnos onto the session error
// taxonomy so that callers can branch with errors.Is
func classifyErrno(msg string, err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %v", msg, err)
	}

	switch errno {
	case unix.EPERM, unix.EACCES:
		return fmt.Errorf("%s: %v: %w", msg, err, ErrPermissionDenied)
	case unix.ENOSYS, unix.ENODEV, unix.EOPNOTSUPP:
		return fmt.Errorf("%s: %v: %w", msg, err, ErrUnsupportedPlatform)
	case unix.EMFILE, unix.ENFILE, unix.ENOMEM, unix.ENOSPC:
		return fmt.Errorf("%s: %v: %w", msg, err, ErrResourceExhausted)
	case unix.EINVAL:
		return fmt.Errorf("%s: %v: %w", msg, err, ErrInvalidAssignment)
	}

	return fmt.Errorf("%s: %v", msg, err)
}
