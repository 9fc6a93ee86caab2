package validate

import "github.com/roach88/denorm/internal/model"

// Category groups checks in the report.
type Category string

const (
	CategoryCount        Category = "count"
	CategoryRelationship Category = "relationship"
	CategorySample       Category = "sample"
	CategoryInvariant    Category = "invariant"
)

// maxFailures caps the failure messages kept per check.
const maxFailures = 20

// Check is the outcome of one validation check.
type Check struct {
	Name       string           `json:"name"`
	Category   Category         `json:"category"`
	Collection model.Collection `json:"collection,omitempty"`
	Passed     bool             `json:"passed"`
	Message    string           `json:"message"`

	// Expected and Actual are set by count checks.
	Expected int64 `json:"expected,omitempty"`
	Actual   int64 `json:"actual,omitempty"`

	Failures []string `json:"failures,omitempty"`

	// Truncated counts failures beyond maxFailures.
	Truncated int `json:"truncated,omitempty"`
}

func (c *Check) fail(msg string) {
	c.Passed = false
	if len(c.Failures) < maxFailures {
		c.Failures = append(c.Failures, msg)
		return
	}
	c.Truncated++
}

// Report is the result of a validation pass.
type Report struct {
	Checks []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Summary counts checks per outcome.
func (r *Report) Summary() (passed, failed int) {
	for _, c := range r.Checks {
		if c.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
