//go:build linux

package kernel_version

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-version"
	"golang.org/x/sys/unix"
)

func GetAndParseKernelVersion(kernelVersionRegex *regexp.Regexp) (*version.Version, error) {
	var uname unix.Utsname
	err := unix.Uname(&uname)
	if err != nil {
		return nil, fmt.Errorf("error calling uname: %v", err)
	}

	kernelVersionRaw := kernelVersionRegex.FindString(string(uname.Release[:]))
	if len(kernelVersionRaw) == 0 {
		return nil, fmt.Errorf("failed to parse kernel release: %q", string(uname.Release[:]))
	}

	kernelVersion, err := version.NewVersion(kernelVersionRaw)
	if err != nil {
		return nil, err
	}

	return kernelVersion, nil
}

func ParseKernelVersionConstraint(kernelVersionConstraintRaw string) (version.Constraints, error) {
	return version.NewConstraint(kernelVersionConstraintRaw)
}

func ApplyKernelVersionConstraint(kernelVersion *version.Version, constraints version.Constraints) bool {
	return constraints.Check(kernelVersion)
}
