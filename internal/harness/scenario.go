package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a test scenario: a store built from CUE specs, a
// sequence of dispatch/undo/redo steps, and assertions on the resulting
// trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists paths to CUE spec files to compile and install.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs"`

	// Store configures the store the specs are installed into.
	Store StoreConfig `yaml:"store,omitempty"`

	// Steps run in order. A step that fails unexpectedly fails the
	// scenario but the remaining steps still run.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state, final_scope
	Assertions []Assertion `yaml:"assertions"`
}

// StoreConfig mirrors the store options.
type StoreConfig struct {
	Patterns bool        `yaml:"patterns,omitempty"`
	Undo     *UndoConfig `yaml:"undo,omitempty"`
	MaxDepth int         `yaml:"max_depth,omitempty"`
}

func (c StoreConfig) withDefaults(d StoreConfig) StoreConfig {
	out := c
	out.Patterns = c.Patterns || d.Patterns
	if c.Undo != nil {
		u := *c.Undo
		if u.MaxStack == 0 && d.Undo != nil {
			u.MaxStack = d.Undo.MaxStack
		}
		out.Undo = &u
	}
	if out.MaxDepth == 0 {
		out.MaxDepth = d.MaxDepth
	}
	return out
}

// UndoConfig enables undo/redo.
type UndoConfig struct {
	MaxStack         int  `yaml:"max_stack,omitempty"`
	ManualUndoPoints bool `yaml:"manual_undo_points,omitempty"`
}

// Step is exactly one of a dispatch, an undo run or a redo run.
type Step struct {
	// Dispatch is the action type to dispatch.
	Dispatch string `yaml:"dispatch,omitempty"`

	// Payload is converted to an ir.Value. Absent means null.
	Payload any `yaml:"payload,omitempty"`

	Target        string `yaml:"target,omitempty"`
	UndoPoint     bool   `yaml:"undo_point,omitempty"`
	SkipUndoPoint bool   `yaml:"skip_undo_point,omitempty"`

	// Undo and Redo are how many times to step back or forward.
	Undo int `yaml:"undo,omitempty"`
	Redo int `yaml:"redo,omitempty"`

	// ExpectError is an error code (e.g. "INVALID_EPIC_ACTION") or a
	// fragment of the error message. The step fails if no error, or a
	// different one, is returned.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Kind returns "dispatch", "undo" or "redo".
func (s Step) Kind() string {
	switch {
	case s.Undo > 0:
		return "undo"
	case s.Redo > 0:
		return "redo"
	default:
		return "dispatch"
	}
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": the invocation appears in the trace
	// - "trace_order": the invocations appear in order (first occurrences)
	// - "trace_count": the invocation appears exactly Count times
	// - "final_state": the epic's committed state equals Expect
	// - "final_scope": the epic's committed scope equals Expect
	Type string `yaml:"type"`

	// Invocation is "epic/reducer" or "listener:name" (trace assertions).
	Invocation string `yaml:"invocation,omitempty"`

	// Action narrows trace_contains and trace_count to one action type.
	Action string `yaml:"action,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Order is the expected invocation order (used by trace_order).
	Order []string `yaml:"order,omitempty"`

	// Epic names the epic (used by final_state and final_scope).
	Epic string `yaml:"epic,omitempty"`

	// Expect is the exact expected value (used by final_state and final_scope).
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertFinalScope    = "final_scope"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec paths
// relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	// Resolve spec paths relative to base path BEFORE validation
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseScenario decodes scenario YAML with strict field validation
// (catches typos like "assertion:" vs "assertions:"). Spec paths are
// left as written and not checked.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, sorted. A
// non-empty filter is a glob matched against the file name without its
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	if s.Store.Undo != nil && s.Store.Undo.MaxStack < 0 {
		return fmt.Errorf("store.undo.max_stack must be non-negative")
	}
	if s.Store.MaxDepth < 0 {
		return fmt.Errorf("store.max_depth must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
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

func validateStep(index int, s Step) error {
	set := 0
	if s.Dispatch != "" {
		set++
	}
	if s.Undo != 0 {
		set++
	}
	if s.Redo != 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of dispatch, undo or redo is required", index)
	}
	if s.Undo < 0 || s.Redo < 0 {
		return fmt.Errorf("steps[%d]: undo and redo counts must be positive", index)
	}
	if s.Dispatch == "" && (s.Payload != nil || s.Target != "" || s.UndoPoint || s.SkipUndoPoint) {
		return fmt.Errorf("steps[%d]: payload, target and undo point flags only apply to dispatch", index)
	}
	if s.UndoPoint && s.SkipUndoPoint {
		return fmt.Errorf("steps[%d]: undo_point and skip_undo_point are mutually exclusive", index)
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
		if a.Invocation == "" {
			return fmt.Errorf("assertions[%d]: invocation is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Order) == 0 {
			return fmt.Errorf("assertions[%d]: order list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Invocation == "" {
			return fmt.Errorf("assertions[%d]: invocation is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState, AssertFinalScope:
		if a.Epic == "" {
			return fmt.Errorf("assertions[%d]: epic is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
