package policy

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
)

//go:embed schema.cue
var schemaSource string

//go:embed default.cue
var defaultSource []byte

// Relationship names a parent→child relationship, "owner.field".
type Relationship string

const (
	UserMemberships     Relationship = "user.memberships"
	ProjectTasks        Relationship = "project.tasks"
	TaskAssignees       Relationship = "task.assignees"
	TaskLabels          Relationship = "task.labels"
	TaskComments        Relationship = "task.comments"
	ProjectOrganization Relationship = "project.organization"
	LabelOrganization   Relationship = "label.organization"
)

// Relationships lists every relationship the engine knows about.
var Relationships = []Relationship{
	UserMemberships,
	ProjectTasks,
	TaskAssignees,
	TaskLabels,
	TaskComments,
	ProjectOrganization,
	LabelOrganization,
}

func (r Relationship) known() bool {
	for _, k := range Relationships {
		if r == k {
			return true
		}
	}
	return false
}

// Mode says whether a relationship is embedded or referenced.
type Mode string

const (
	ModeEmbed     Mode = "embed"
	ModeReference Mode = "reference"
)

// Overflow says what happens when an embedded array exceeds its bound.
type Overflow string

const (
	// OverflowFail skips the owning record and reports BOUND_EXCEEDED.
	OverflowFail Overflow = "fail"
	// OverflowTruncate keeps the first bound elements after ordering and
	// reports a warning.
	OverflowTruncate Overflow = "truncate"
)

// ParseOverflow converts a string into an Overflow.
func ParseOverflow(s string) (Overflow, error) {
	switch o := Overflow(strings.ToLower(strings.TrimSpace(s))); o {
	case OverflowFail, OverflowTruncate:
		return o, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q (want fail or truncate)", s)
}

// Rule is one row of the policy table.
type Rule struct {
	Relationship Relationship `json:"relationship"`
	Mode         Mode         `json:"mode"`
	Bound        int          `json:"bound,omitempty"`
	Overflow     Overflow     `json:"overflow,omitempty"`
	Denormalize  []string     `json:"denormalize,omitempty"`
}

// Embedded reports whether the relationship is embedded.
func (r Rule) Embedded() bool { return r.Mode == ModeEmbed }

// Table is a complete, validated relationship policy.
type Table struct {
	overflow Overflow
	rules    map[Relationship]Rule
}

// Rule returns the rule for rel. Every known relationship has a rule.
func (t *Table) Rule(rel Relationship) Rule {
	return t.rules[rel]
}

// Denormalizes reports whether rel copies field of the referenced record.
func (t *Table) Denormalizes(rel Relationship, field string) bool {
	return slices.Contains(t.rules[rel].Denormalize, field)
}

// Bound returns the embed bound of rel, or 0 for references.
func (t *Table) Bound(rel Relationship) int {
	return t.rules[rel].Bound
}

// OverflowFor returns the overflow policy that applies to rel.
func (t *Table) OverflowFor(rel Relationship) Overflow {
	if o := t.rules[rel].Overflow; o != "" {
		return o
	}
	return t.overflow
}

// Overflow returns the table-wide overflow policy.
func (t *Table) Overflow() Overflow {
	return t.overflow
}

// Rules returns every rule ordered by relationship name, with inherited
// overflow policies filled in.
func (t *Table) Rules() []Rule {
	rules := make([]Rule, 0, len(t.rules))
	for rel, r := range t.rules {
		if r.Embedded() {
			r.Overflow = t.OverflowFor(rel)
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Relationship < rules[j].Relationship
	})
	return rules
}

// WithOverflow returns a copy of the table where every embedded relationship
// uses o, overriding per-rule settings.
func (t *Table) WithOverflow(o Overflow) *Table {
	out := t.clone()
	out.overflow = o
	for rel, r := range out.rules {
		if r.Embedded() {
			r.Overflow = o
			out.rules[rel] = r
		}
	}
	return out
}

// WithBound returns a copy of the table with the bound of an embedded
// relationship replaced.
func (t *Table) WithBound(rel Relationship, bound int) (*Table, error) {
	r, ok := t.rules[rel]
	if !ok || !r.Embedded() {
		return nil, fmt.Errorf("%s is not an embedded relationship", rel)
	}
	if bound <= 0 {
		return nil, fmt.Errorf("%s: bound must be positive, got %d", rel, bound)
	}
	out := t.clone()
	r.Bound = bound
	out.rules[rel] = r
	return out, nil
}

func (t *Table) clone() *Table {
	out := &Table{overflow: t.overflow, rules: make(map[Relationship]Rule, len(t.rules))}
	for rel, r := range t.rules {
		r.Denormalize = append([]string(nil), r.Denormalize...)
		out.rules[rel] = r
	}
	return out
}

var defaultTable = sync.OnceValues(func() (*Table, error) {
	return compile("default.cue", defaultSource, nil)
})

// Default returns the built-in policy table.
func Default() *Table {
	t, err := defaultTable()
	if err != nil {
		panic(fmt.Sprintf("policy: built-in default does not compile: %v", err))
	}
	return t.clone()
}

// Compile parses an override policy. Relationships the source leaves out keep
// their default rule; a top-level overflow applies to every embedded
// relationship that does not set its own.
func Compile(filename string, src []byte) (*Table, error) {
	return compile(filename, src, Default())
}

// LoadFile reads and compiles an override policy file.
func LoadFile(path string) (*Table, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Compile(path, src)
}
