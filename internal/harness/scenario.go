package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a multi-device sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Relay configures the in-process relay.
	Relay RelaySpec `yaml:"relay,omitempty"`

	// Devices lists the simulated devices. Host ids are assigned in order.
	Devices []DeviceSpec `yaml:"devices"`

	// Flow is executed step by step.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// RelaySpec configures the relay.
type RelaySpec struct {
	MaxRecordSize int `yaml:"max_record_size,omitempty"`
	PageSize      int `yaml:"page_size,omitempty"`
}

// DeviceSpec declares one device.
type DeviceSpec struct {
	Name string `yaml:"name"`

	// Key names the encryption key the device starts with. Devices naming
	// the same key share it. Default: "default".
	Key string `yaml:"key,omitempty"`

	// PageSize is the device's sync page size. Default: 100.
	PageSize int `yaml:"page_size,omitempty"`
}

// Step is one action on one device.
type Step struct {
	Device string         `yaml:"device"`
	Do     string         `yaml:"do"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Expect is a subset match against the step outcome.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Device  string   `yaml:"device,omitempty"`
	Devices []string `yaml:"devices,omitempty"`

	// Count is used by history_count.
	Count int `yaml:"count,omitempty"`

	// Command is used by history_contains.
	Command string `yaml:"command,omitempty"`

	// Name and Value are used by alias and kv.
	Namespace string  `yaml:"namespace,omitempty"`
	Name      string  `yaml:"name,omitempty"`
	Value     *string `yaml:"value,omitempty"`

	// Host, Tag and Idx are used by stream_tail. Host is a device name.
	Host string `yaml:"host,omitempty"`
	Tag  string `yaml:"tag,omitempty"`
	Idx  *int   `yaml:"idx,omitempty"`
}

// Step actions.
const (
	DoHistoryAdd    = "history.add"
	DoHistoryDelete = "history.delete"
	DoAliasSet      = "alias.set"
	DoAliasDelete   = "alias.delete"
	DoKVSet         = "kv.set"
	DoKVDelete      = "kv.delete"
	DoRaw           = "raw"
	DoKeySet        = "key.set"
	DoSync          = "sync"
	DoPush          = "push"
	DoPull          = "pull"
	DoRebuild       = "rebuild"
	DoPurge         = "purge"
	DoVerify        = "verify"
)

var knownSteps = []string{
	DoHistoryAdd, DoHistoryDelete, DoAliasSet, DoAliasDelete, DoKVSet, DoKVDelete,
	DoRaw, DoKeySet, DoSync, DoPush, DoPull, DoRebuild, DoPurge, DoVerify,
}

// Assertion type constants.
const (
	AssertHistoryCount    = "history_count"
	AssertHistoryContains = "history_contains"
	AssertAlias           = "alias"
	AssertKV              = "kv"
	AssertStatusMatch     = "status_match"
	AssertStreamTail      = "stream_tail"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	devices := map[string]bool{}
	for i, d := range s.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if devices[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d.Name)
		}
		devices[d.Name] = true
	}

	for i, step := range s.Flow {
		if !devices[step.Device] {
			return fmt.Errorf("flow[%d]: unknown device %q", i, step.Device)
		}
		if !slices.Contains(knownSteps, step.Do) {
			return fmt.Errorf("flow[%d]: unknown step %q", i, step.Do)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, devices); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, devices map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertHistoryCount, AssertHistoryContains, AssertAlias, AssertKV, AssertStreamTail:
		if !devices[a.Device] {
			return fmt.Errorf("assertions[%d]: unknown device %q", index, a.Device)
		}
	case AssertStatusMatch:
		if len(a.Devices) == 0 {
			return fmt.Errorf("assertions[%d]: devices list is required for status_match", index)
		}
		for _, d := range a.Devices {
			if !devices[d] {
				return fmt.Errorf("assertions[%d]: unknown device %q", index, d)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	switch a.Type {
	case AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	case AssertHistoryContains:
		if a.Command == "" {
			return fmt.Errorf("assertions[%d]: command is required for history_contains", index)
		}
	case AssertAlias, AssertKV:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for %s", index, a.Type)
		}
	case AssertStreamTail:
		if !devices[a.Host] {
			return fmt.Errorf("assertions[%d]: unknown host device %q", index, a.Host)
		}
		if a.Tag == "" {
			return fmt.Errorf("assertions[%d]: tag is required for stream_tail", index)
		}
	}
	return nil
}
