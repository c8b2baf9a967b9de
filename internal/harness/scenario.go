package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a reconciliation test: seeded state, a sequence of
// deliveries, and assertions over the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Options Options `yaml:"options"`

	// Records are seeded into the store before the first delivery.
	Records []Record `yaml:"records,omitempty"`

	// Annotations are comments seeded on records, oldest first.
	Annotations []Annotation `yaml:"annotations,omitempty"`

	// Issues seeds issue bodies for the back-reference step.
	Issues []IssueBody `yaml:"issues,omitempty"`

	// Identities is the fallback resolver's login → identity table. When
	// empty no resolver is configured.
	Identities map[string]string `yaml:"identities,omitempty"`

	Events []EventStep `yaml:"events"`

	Assertions []Assertion `yaml:"assertions"`
}

// Options configures the engine for a scenario.
type Options struct {
	Project      string `yaml:"project"`
	WorkItemType string `yaml:"work_item_type,omitempty"`
	NewState     string `yaml:"new_state,omitempty"`
	ClosedState  string `yaml:"closed_state,omitempty"`
	AreaPath     string `yaml:"area_path,omitempty"`
	BypassRules  bool   `yaml:"bypass_rules,omitempty"`

	// CrossReference enables the AB#<id> back-reference step.
	CrossReference bool `yaml:"cross_reference,omitempty"`
}

// Record is a seeded work item.
type Record struct {
	ID     int            `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

// Annotation is a seeded comment on a record.
type Annotation struct {
	Record int    `yaml:"record"`
	Author string `yaml:"author"`
	Text   string `yaml:"text"`
}

// IssueBody seeds one issue in the tracker.
type IssueBody struct {
	Repo   string `yaml:"repo"` // owner/name
	Number int    `yaml:"number"`
	Body   string `yaml:"body"`
}

// EventStep is one delivery.
type EventStep struct {
	// Payload is the webhook body.
	Payload map[string]any `yaml:"payload"`

	// Fail makes store methods fail for this delivery only, keyed by
	// method name ("Query", "Get", "Create", "Update", "Comments").
	Fail map[string]string `yaml:"fail,omitempty"`

	// FailLink makes the back-reference write fail for this delivery.
	FailLink string `yaml:"fail_link,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// JSON returns the payload as the webhook body bytes.
func (s EventStep) JSON() ([]byte, error) {
	return json.Marshal(s.Payload)
}

// Expect is the expected outcome of one delivery.
type Expect struct {
	Action string `yaml:"action"`

	// RecordID, when set, must equal the result's record id.
	RecordID *int `yaml:"record_id,omitempty"`

	ErrorCode string `yaml:"error_code,omitempty"`
	Reason    string `yaml:"reason,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Method is the store method (call_count).
	Method string `yaml:"method,omitempty"`

	// Count is the expected number of calls or updates (call_count,
	// issue_updates).
	Count int `yaml:"count,omitempty"`

	// Record and Field address a stored field (field_equals).
	Record int    `yaml:"record,omitempty"`
	Field  string `yaml:"field,omitempty"`
	Equals string `yaml:"equals,omitempty"`

	// Repo and Number address an issue (issue_body_contains,
	// issue_updates).
	Repo     string `yaml:"repo,omitempty"`
	Number   int    `yaml:"number,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount         = "call_count"
	AssertFieldEquals       = "field_equals"
	AssertIssueBodyContains = "issue_body_contains"
	AssertIssueUpdates      = "issue_updates"
)

var storeMethods = map[string]bool{
	"Query": true, "Get": true, "Create": true, "Update": true, "Comments": true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

// FindScenarios returns the .yaml and .yml files under dir, optionally
// filtered by a glob over the base name without extension.
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
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Options.Project == "" {
		return fmt.Errorf("options.project is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	seeded := make(map[int]bool, len(s.Records))
	for i, r := range s.Records {
		if r.ID <= 0 {
			return fmt.Errorf("records[%d]: id must be positive", i)
		}
		if seeded[r.ID] {
			return fmt.Errorf("records[%d]: duplicate id %d", i, r.ID)
		}
		seeded[r.ID] = true
	}
	for i, a := range s.Annotations {
		if !seeded[a.Record] {
			return fmt.Errorf("annotations[%d]: record %d is not seeded", i, a.Record)
		}
	}
	for i, is := range s.Issues {
		if !strings.Contains(is.Repo, "/") {
			return fmt.Errorf("issues[%d]: repo must be owner/name", i)
		}
	}

	for i, step := range s.Events {
		if step.Payload == nil {
			return fmt.Errorf("events[%d]: payload is required", i)
		}
		for method := range step.Fail {
			if !storeMethods[method] {
				return fmt.Errorf("events[%d].fail: unknown store method %q", i, method)
			}
		}
		if step.Expect != nil && step.Expect.Action == "" {
			return fmt.Errorf("events[%d].expect: action is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallCount:
		if !storeMethods[a.Method] {
			return fmt.Errorf("assertions[%d]: unknown store method %q for call_count", index, a.Method)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertFieldEquals:
		if a.Record == 0 || a.Field == "" {
			return fmt.Errorf("assertions[%d]: record and field are required for field_equals", index)
		}
	case AssertIssueBodyContains:
		if a.Repo == "" || a.Number == 0 || a.Contains == "" {
			return fmt.Errorf("assertions[%d]: repo, number and contains are required for issue_body_contains", index)
		}
	case AssertIssueUpdates:
		if a.Repo == "" || a.Number == 0 {
			return fmt.Errorf("assertions[%d]: repo and number are required for issue_updates", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for issue_updates", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
