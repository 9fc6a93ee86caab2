package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
)

// Scenario defines a migration scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dataset is a YAML fixture file, relative to the scenario file.
	Dataset string `yaml:"dataset,omitempty"`

	// Data is an inline dataset. Rows are appended to Dataset's rows.
	Data *model.Dataset `yaml:"data,omitempty"`

	// Generate synthesizes rows, for datasets too large to write out.
	Generate []Generate `yaml:"generate,omitempty"`

	// Policy overrides the default relationship policy.
	Policy *PolicyOverride `yaml:"policy,omitempty"`

	// Strict makes a project's missing organization run-fatal.
	Strict bool `yaml:"strict,omitempty"`

	// Runs is the number of times the pipeline runs over the same ledger and
	// target. Defaults to 1.
	Runs int `yaml:"runs,omitempty"`

	// Assertions validate the outcome of the last run.
	Assertions []Assertion `yaml:"assertions"`
}

// Generate synthesizes Count rows of Kind owned by Parent, with consecutive
// ids from FirstID.
type Generate struct {
	// Kind is "tasks" (Parent is a project), "comments" (Parent is a task)
	// or "assignees" (Parent is a task, ids are user ids).
	Kind    string `yaml:"kind"`
	Parent  int64  `yaml:"parent"`
	FirstID int64  `yaml:"first_id"`
	Count   int    `yaml:"count"`

	// UserID authors generated comments.
	UserID int64 `yaml:"user_id,omitempty"`
}

// Generate kinds.
const (
	GenerateTasks     = "tasks"
	GenerateComments  = "comments"
	GenerateAssignees = "assignees"
)

// PolicyOverride adjusts the default policy table.
type PolicyOverride struct {
	// File is a CUE policy file, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	// Overflow applies to every embedded relationship.
	Overflow string `yaml:"overflow,omitempty"`

	// Bounds overrides individual embed bounds.
	Bounds map[string]int `yaml:"bounds,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type, one of the Assert* constants.
	Type string `yaml:"type"`

	// Status is the expected run status (status).
	Status string `yaml:"status,omitempty"`

	// Collection and OriginalID locate a top-level document (document,
	// document_count, embedded_count). For task, OriginalID is the task's.
	Collection string `yaml:"collection,omitempty"`
	OriginalID int64  `yaml:"original_id,omitempty"`

	// Path is a dotted path into the document (embedded_count, document).
	// Numeric segments index arrays: tasks.0.comments
	Path string `yaml:"path,omitempty"`

	// Fields are expected values, subset match (document, task).
	Fields map[string]any `yaml:"fields,omitempty"`

	// Count is the expected number of documents, elements or errors.
	Count int `yaml:"count"`

	// Kind, Entity, Skipped and Details select errors (error, error_count).
	Kind    string            `yaml:"kind,omitempty"`
	Entity  string            `yaml:"entity,omitempty"`
	Skipped *bool             `yaml:"skipped,omitempty"`
	Details map[string]string `yaml:"details,omitempty"`

	// Check names a validation check (check_failed).
	Check string `yaml:"check,omitempty"`

	// Contains is a substring of the fatal cause (fatal).
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus           = "status"
	AssertDocumentCount    = "document_count"
	AssertDocument         = "document"
	AssertTask             = "task"
	AssertEmbeddedCount    = "embedded_count"
	AssertError            = "error"
	AssertErrorCount       = "error_count"
	AssertValidationPassed = "validation_passed"
	AssertCheckFailed      = "check_failed"
	AssertDeterministic    = "deterministic"
	AssertFatal            = "fatal"
)

// LoadScenario reads and parses a scenario YAML file. Relative dataset and
// policy paths are resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	if scenario.Dataset != "" && !filepath.IsAbs(scenario.Dataset) {
		scenario.Dataset = filepath.Join(base, scenario.Dataset)
	}
	if p := scenario.Policy; p != nil && p.File != "" && !filepath.IsAbs(p.File) {
		p.File = filepath.Join(base, p.File)
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

	if s.Dataset == "" && s.Data == nil && len(s.Generate) == 0 {
		return fmt.Errorf("one of dataset, data or generate is required")
	}

	if s.Dataset != "" {
		if _, err := os.Stat(s.Dataset); os.IsNotExist(err) {
			return fmt.Errorf("dataset file not found: %s", s.Dataset)
		}
	}

	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, g := range s.Generate {
		switch g.Kind {
		case GenerateTasks, GenerateComments, GenerateAssignees:
		default:
			return fmt.Errorf("generate[%d]: unknown kind %q", i, g.Kind)
		}
		if g.Count <= 0 {
			return fmt.Errorf("generate[%d]: count must be positive", i)
		}
		if g.Kind == GenerateComments && g.UserID == 0 {
			return fmt.Errorf("generate[%d]: user_id is required for comments", i)
		}
	}

	if p := s.Policy; p != nil {
		if p.Overflow != "" {
			if _, err := policy.ParseOverflow(p.Overflow); err != nil {
				return fmt.Errorf("policy: %w", err)
			}
		}
		if p.File != "" {
			if _, err := os.Stat(p.File); os.IsNotExist(err) {
				return fmt.Errorf("policy file not found: %s", p.File)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertDocumentCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for document_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for document_count", index)
		}
	case AssertDocument:
		if a.Collection == "" || a.OriginalID == 0 {
			return fmt.Errorf("assertions[%d]: collection and original_id are required for document", index)
		}
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields are required for document", index)
		}
	case AssertTask:
		if a.OriginalID == 0 || len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: original_id and fields are required for task", index)
		}
	case AssertEmbeddedCount:
		if a.Collection == "" || a.OriginalID == 0 || a.Path == "" {
			return fmt.Errorf("assertions[%d]: collection, original_id and path are required for embedded_count", index)
		}
	case AssertError:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for error", index)
		}
	case AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for error_count", index)
		}
	case AssertCheckFailed:
		if a.Check == "" {
			return fmt.Errorf("assertions[%d]: check is required for check_failed", index)
		}
	case AssertDeterministic:
		if s.Runs < 2 {
			return fmt.Errorf("assertions[%d]: deterministic requires runs >= 2", index)
		}
	case AssertFatal:
	case AssertValidationPassed:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Collection != "" && !knownCollection(model.Collection(a.Collection)) {
		return fmt.Errorf("assertions[%d]: unknown collection %q", index, a.Collection)
	}
	if a.Entity != "" {
		if _, err := model.ParseEntityType(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}

	return nil
}

func knownCollection(c model.Collection) bool {
	for _, known := range model.Collections {
		if c == known {
			return true
		}
	}
	return false
}
