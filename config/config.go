// Package config defines the measurement configuration file
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/hpmon/pmcmon/alloc"
)

// DefaultEvents is the event list used when none is configured, matching
// the built-in list of the original tool
var DefaultEvents = []string{"cpu_cycles", "IA64_INST_RETIRED"}

// Config defines one measurement run
type Config struct {
	CPU        int      `yaml:"cpu"`
	Privilege  string   `yaml:"privilege"`
	SystemWide *bool    `yaml:"system_wide"`
	Events     []string `yaml:"events"`
}

// ParseConfig reads and validates a config from a yaml file
func ParseConfig(path string) (Config, error) {
	config := Config{}

	f, err := os.Open(path)
	if err != nil {
		return config, fmt.Errorf("error opening config file %q: %v", path, err)
	}

	defer f.Close()

	err = yaml.NewDecoder(f).Decode(&config)
	if err != nil {
		return config, fmt.Errorf("error decoding config file %q: %v", path, err)
	}

	err = ValidateConfig(&config)
	if err != nil {
		return config, fmt.Errorf("error validating config file %q: %v", path, err)
	}

	return config, nil
}

// ValidateConfig checks a config and fills in defaults: the original's event
// list, kernel privilege level and system-wide counting
func ValidateConfig(c *Config) error {
	if c.CPU < 0 {
		return fmt.Errorf("cpu index must not be negative, got %d", c.CPU)
	}

	if c.Privilege == "" {
		c.Privilege = alloc.PrivilegeKernel.String()
	}

	if _, err := alloc.ParsePrivilege(c.Privilege); err != nil {
		return err
	}

	if c.SystemWide == nil {
		systemWide := true
		c.SystemWide = &systemWide
	}

	if len(c.Events) == 0 {
		c.Events = DefaultEvents
	}

	for _, name := range c.Events {
		if name == "" {
			return fmt.Errorf("event names must not be empty")
		}
	}

	return nil
}

// Policy returns the allocation policy the config describes. The config
// must have been validated first.
func (c *Config) Policy() (alloc.Policy, error) {
	privilege, err := alloc.ParsePrivilege(c.Privilege)
	if err != nil {
		return alloc.Policy{}, err
	}

	systemWide := true
	if c.SystemWide != nil {
		systemWide = *c.SystemWide
	}

	return alloc.Policy{Privilege: privilege, SystemWide: systemWide}, nil
}
