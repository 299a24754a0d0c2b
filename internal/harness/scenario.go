package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/config"
	"github.com/roach88/geoattend/internal/recovery"
)

// Scenario defines an attendance scenario.
// Scenarios drive the session manager, recovery procedure and sync engine
// through a sequence of steps against a fresh store, then assert on the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Zone is the monitored zone. It is saved to the store before the
	// first step, as the run command does.
	Zone config.Zone `yaml:"zone"`

	// UserID is the signed-in user. Empty means nobody is signed in.
	UserID string `yaml:"user_id,omitempty"`

	// TrustedNetworks configures the verification gate. The device starts
	// associated with the first entry unless Network says otherwise.
	TrustedNetworks []attendance.NetworkIdentity `yaml:"trusted_networks"`

	// Network is the initial network identity.
	Network *attendance.NetworkIdentity `yaml:"network,omitempty"`

	// Recovery overrides the recovery policies.
	Recovery RecoveryPolicy `yaml:"recovery,omitempty"`

	// Setup seeds records directly into the store before the first step.
	Setup []SeedRecord `yaml:"setup,omitempty"`

	// Steps is the main flow.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, record, notified
	Assertions []Assertion `yaml:"assertions"`
}

// RecoveryPolicy mirrors the recovery section of the config file.
type RecoveryPolicy struct {
	OnProbeFailure string `yaml:"on_probe_failure,omitempty"`
	OnEmptyStore   string `yaml:"on_empty_store,omitempty"`
}

// SeedRecord is a record that existed before the scenario starts.
// Times are durations before the scenario clock's start.
type SeedRecord struct {
	UserID     string `yaml:"user_id"`
	Label      string `yaml:"label,omitempty"`
	CheckedIn  string `yaml:"checked_in"`
	CheckedOut string `yaml:"checked_out,omitempty"`
}

// Step is one action in the flow.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Kind is the event kind (event).
	Kind string `yaml:"kind,omitempty"`

	// ZoneID overrides the event zone id (event). Defaults to the scenario zone.
	ZoneID *string `yaml:"zone_id,omitempty"`

	// NorthM and EastM place the device relative to the zone center (move).
	NorthM float64 `yaml:"north_m,omitempty"`
	EastM  float64 `yaml:"east_m,omitempty"`

	// Fix is the probe behaviour (move): last_known (default), fresh_only,
	// timeout or denied.
	Fix string `yaml:"fix,omitempty"`

	// Network is the identity to associate with (network). Nil disassociates.
	Network *attendance.NetworkIdentity `yaml:"network,omitempty"`

	// Failing makes the remote store fail (remote).
	Failing bool `yaml:"failing,omitempty"`

	// Duration is how far to move the clock (advance).
	Duration string `yaml:"duration,omitempty"`

	// Expect is the expected outcome of the step (event, poll, recover, sync).
	Expect string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionEvent   = "event"
	ActionPoll    = "poll"
	ActionRecover = "recover"
	ActionSync    = "sync"
	ActionMove    = "move"
	ActionNetwork = "network"
	ActionRemote  = "remote"
	ActionAdvance = "advance"
	ActionRestart = "restart"
)

// Probe fix modes accepted by move steps.
const (
	FixLastKnown = "last_known"
	FixFreshOnly = "fresh_only"
	FixTimeout   = "timeout"
	FixDenied    = "denied"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a step with Action (and Outcome, if set) ran
	// - "trace_order": Outcomes appear in order
	// - "trace_count": Action (and Outcome, if set) appears exactly Count times
	// - "final_state": subset match of Expect against the state summary
	// - "record": subset match of Expect against record Record
	// - "notified": a notification titled Title was posted
	Type string `yaml:"type"`

	Action   string         `yaml:"action,omitempty"`
	Outcome  string         `yaml:"outcome,omitempty"`
	Outcomes []string       `yaml:"outcomes,omitempty"`
	Count    int            `yaml:"count,omitempty"`
	Record   int64          `yaml:"record,omitempty"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	Title    string         `yaml:"title,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRecord        = "record"
	AssertNotified      = "notified"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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
	if s.Zone.ID == "" || s.Zone.RadiusM <= 0 {
		return fmt.Errorf("zone id and a positive radius_m are required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	switch recovery.ProbeFailurePolicy(s.Recovery.OnProbeFailure) {
	case "", recovery.CloseOnProbeFailure, recovery.KeepOnProbeFailure:
	default:
		return fmt.Errorf("recovery.on_probe_failure: unknown policy %q", s.Recovery.OnProbeFailure)
	}
	switch recovery.EmptyStorePolicy(s.Recovery.OnEmptyStore) {
	case "", recovery.CheckInOnEmptyStore, recovery.WaitOnEmptyStore:
	default:
		return fmt.Errorf("recovery.on_empty_store: unknown policy %q", s.Recovery.OnEmptyStore)
	}

	for i, seed := range s.Setup {
		if _, err := time.ParseDuration(seed.CheckedIn); err != nil {
			return fmt.Errorf("setup[%d]: checked_in: %w", i, err)
		}
		if seed.CheckedOut != "" {
			if _, err := time.ParseDuration(seed.CheckedOut); err != nil {
				return fmt.Errorf("setup[%d]: checked_out: %w", i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its action.
func validateStep(index int, s *Step) error {
	switch s.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionEvent:
		if _, err := attendance.ParseEventKind(s.Kind); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case ActionMove:
		switch s.Fix {
		case "", FixLastKnown, FixFreshOnly, FixTimeout, FixDenied:
		default:
			return fmt.Errorf("steps[%d]: unknown fix %q", index, s.Fix)
		}
	case ActionAdvance:
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", index, err)
		}
	case ActionPoll, ActionRecover, ActionSync, ActionNetwork, ActionRemote, ActionRestart:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRecord:
		if a.Record <= 0 {
			return fmt.Errorf("assertions[%d]: record id is required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertNotified:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for notified", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
