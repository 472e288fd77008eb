package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v2"

	"github.com/hpmon/pmcmon/alloc"
)

func TestConfigDefaults(t *testing.T) {
	reader := strings.NewReader(`cpu: 0
`)

	config := Config{}

	err := yaml.NewDecoder(reader).Decode(&config)
	if err != nil {
		t.Fatalf("failed to unmarshal config: %s", err)
	}

	err = ValidateConfig(&config)
	if err != nil {
		t.Fatalf("unexpected error validating config: %s", err)
	}

	if len(config.Events) != len(DefaultEvents) {
		t.Errorf("Expected default events %v, got %v", DefaultEvents, config.Events)
	}

	if config.Privilege != "kernel" {
		t.Errorf("Expected default privilege %q, got %q", "kernel", config.Privilege)
	}

	if config.SystemWide == nil || !*config.SystemWide {
		t.Errorf("Expected system_wide to default to true")
	}
}

func TestConfigValidationFailures(t *testing.T) {
	cases := []string{
		`cpu: -1
`,
		`privilege: hypervisor
`,
		`events:
  - cpu_cycles
  - ""
`,
	}

	for _, raw := range cases {
		config := Config{}

		err := yaml.NewDecoder(strings.NewReader(raw)).Decode(&config)
		if err != nil {
			t.Fatalf("failed to unmarshal config %q: %s", raw, err)
		}

		if err = ValidateConfig(&config); err == nil {
			t.Errorf("Expected validation error for config %q", raw)
		}
	}
}

func TestConfigPolicy(t *testing.T) {
	systemWide := false

	config := Config{
		Privilege:  "user",
		SystemWide: &systemWide,
	}

	err := ValidateConfig(&config)
	if err != nil {
		t.Fatal(err)
	}

	policy, err := config.Policy()
	if err != nil {
		t.Fatal(err)
	}

	if policy.Privilege != alloc.PrivilegeUser {
		t.Errorf("Expected privilege %v, got %v", alloc.PrivilegeUser, policy.Privilege)
	}

	if policy.SystemWide {
		t.Errorf("Expected system_wide to be false")
	}
}

func TestParseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmcmon.yaml")

	raw := `cpu: 1
privilege: all
events:
  - cpu_cycles
  - branch_misses
`

	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := ParseConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if config.CPU != 1 {
		t.Errorf("Expected cpu 1, got %d", config.CPU)
	}

	if len(config.Events) != 2 {
		t.Errorf("Expected 2 events, got %v", config.Events)
	}
}

func TestParseConfigMissingFile(t *testing.T) {
	_, err := ParseConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Errorf("Expected error for missing config file")
	}
}
