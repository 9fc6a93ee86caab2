package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/transform"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Errors   []string // Run errors for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Errors) > 0 {
		fmt.Fprintf(&buf, "\nRun errors:\n")
		for i, msg := range e.Errors {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, msg)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, result *Result, a Assertion) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(result, a)
	case AssertDocumentCount:
		return assertDocumentCount(ctx, result, a)
	case AssertDocument:
		return assertDocument(ctx, result, a)
	case AssertTask:
		return assertTask(ctx, result, a)
	case AssertEmbeddedCount:
		return assertEmbeddedCount(ctx, result, a)
	case AssertError:
		return assertError(result, a)
	case AssertErrorCount:
		return assertErrorCount(result, a)
	case AssertValidationPassed:
		return assertValidationPassed(result)
	case AssertCheckFailed:
		return assertCheckFailed(result, a)
	case AssertDeterministic:
		return assertDeterministic(result)
	case AssertFatal:
		return assertFatal(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// runErrors renders the last run's error list for failure context.
func runErrors(result *Result) []string {
	last := result.Last()
	if last == nil {
		return nil
	}
	out := make([]string, 0, len(last.Errors))
	for _, e := range last.Errors {
		out = append(out, e.Error())
	}
	return out
}

func assertStatus(result *Result, a Assertion) error {
	got := string(result.Last().Status)
	if got != a.Status {
		actual := got
		if f := result.Last().Fatal; f != "" {
			actual += " (fatal: " + f + ")"
		}
		return &AssertionError{Type: a.Type, Expected: a.Status, Actual: actual, Errors: runErrors(result)}
	}
	return nil
}

func assertDocumentCount(ctx context.Context, result *Result, a Assertion) error {
	n, err := result.Target.Count(ctx, model.Collection(a.Collection))
	if err != nil {
		return err
	}
	if n != int64(a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d documents in %s", a.Count, a.Collection),
			Actual:   fmt.Sprintf("%d documents", n),
			Errors:   runErrors(result),
		}
	}
	return nil
}

// document returns the canonical map of a stored top-level document.
func document(ctx context.Context, result *Result, c model.Collection, originalID int64) (map[string]any, error) {
	doc, ok, err := result.Target.Get(ctx, c, originalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &AssertionError{
			Type:     "document",
			Expected: fmt.Sprintf("%s document with original_id %d", c, originalID),
			Actual:   "not stored",
			Errors:   runErrors(result),
		}
	}
	return model.CanonicalMap(doc)
}

func assertDocument(ctx context.Context, result *Result, a Assertion) error {
	m, err := document(ctx, result, model.Collection(a.Collection), a.OriginalID)
	if err != nil {
		return err
	}
	var target any = m
	if a.Path != "" {
		if target, err = resolvePath(m, a.Path); err != nil {
			return err
		}
	}
	if err := matchValue(a.Fields, target, a.Path); err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %d fields %v", a.Collection, a.OriginalID, a.Fields),
			Actual:   err.Error(),
		}
	}
	return nil
}

func assertTask(ctx context.Context, result *Result, a Assertion) error {
	projects, err := result.Target.Documents(ctx, model.CollectionProjects)
	if err != nil {
		return err
	}
	for _, d := range projects {
		p, ok := d.(model.ProjectDoc)
		if !ok {
			continue
		}
		for _, t := range p.Tasks {
			if t.OriginalID != a.OriginalID {
				continue
			}
			m, err := model.CanonicalMap(t)
			if err != nil {
				return err
			}
			if err := matchValue(a.Fields, m, ""); err != nil {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("task %d fields %v", a.OriginalID, a.Fields),
					Actual:   err.Error(),
				}
			}
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("task %d embedded in a project", a.OriginalID),
		Actual:   "not found",
		Errors:   runErrors(result),
	}
}

func assertEmbeddedCount(ctx context.Context, result *Result, a Assertion) error {
	m, err := document(ctx, result, model.Collection(a.Collection), a.OriginalID)
	if err != nil {
		return err
	}
	v, err := resolvePath(m, a.Path)
	if err != nil {
		return err
	}
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%s is %T, not an array", a.Path, v)
	}
	if len(arr) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %d: %d elements in %s", a.Collection, a.OriginalID, a.Count, a.Path),
			Actual:   fmt.Sprintf("%d elements", len(arr)),
			Errors:   runErrors(result),
		}
	}
	return nil
}

// matches reports whether e is selected by the assertion's error filters.
func (a Assertion) matches(e transform.Error) bool {
	if a.Kind != "" && string(e.Kind) != a.Kind {
		return false
	}
	if a.Entity != "" && string(e.Entity) != a.Entity {
		return false
	}
	if a.OriginalID != 0 && e.OriginalID != a.OriginalID {
		return false
	}
	if a.Skipped != nil && e.Skipped != *a.Skipped {
		return false
	}
	for k, v := range a.Details {
		if e.Details[k] != v {
			return false
		}
	}
	return true
}

func assertError(result *Result, a Assertion) error {
	for _, e := range result.Last().Errors {
		if a.matches(e) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("error kind=%s entity=%s original_id=%d details=%v", a.Kind, a.Entity, a.OriginalID, a.Details),
		Actual:   "no matching error",
		Errors:   runErrors(result),
	}
}

func assertErrorCount(result *Result, a Assertion) error {
	n := 0
	for _, e := range result.Last().Errors {
		if a.matches(e) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d errors matching kind=%q entity=%q", a.Count, a.Kind, a.Entity),
			Actual:   fmt.Sprintf("%d errors", n),
			Errors:   runErrors(result),
		}
	}
	return nil
}

func assertValidationPassed(result *Result) error {
	v := result.Last().Validation
	if v == nil {
		return &AssertionError{Type: AssertValidationPassed, Expected: "validation report", Actual: "run was not validated"}
	}
	if failed := v.Failed(); len(failed) > 0 {
		msgs := make([]string, 0, len(failed))
		for _, c := range failed {
			msgs = append(msgs, fmt.Sprintf("%s: %s %v", c.Name, c.Message, c.Failures))
		}
		return &AssertionError{
			Type:     AssertValidationPassed,
			Expected: "every check passed",
			Actual:   strings.Join(msgs, "; "),
		}
	}
	return nil
}

func assertCheckFailed(result *Result, a Assertion) error {
	v := result.Last().Validation
	if v == nil {
		return &AssertionError{Type: a.Type, Expected: "validation report", Actual: "run was not validated"}
	}
	for _, c := range v.Checks {
		if c.Name == a.Check {
			if c.Passed {
				return &AssertionError{Type: a.Type, Expected: a.Check + " failed", Actual: "passed: " + c.Message}
			}
			return nil
		}
	}
	return &AssertionError{Type: a.Type, Expected: "check " + a.Check, Actual: "no such check"}
}

func assertDeterministic(result *Result) error {
	first := result.States[0]
	for i, state := range result.States[1:] {
		if !reflect.DeepEqual(first, state) {
			return &AssertionError{
				Type:     AssertDeterministic,
				Expected: "identical target after every run",
				Actual:   fmt.Sprintf("run %d differs from run 1: %s", i+2, describeStateDiff(first, state)),
			}
		}
	}
	for _, d := range result.Diffs {
		if !d.Identical() {
			return &AssertionError{
				Type:     AssertDeterministic,
				Expected: "identical ledger digests",
				Actual: fmt.Sprintf("%s vs %s: %d added, %d removed, %d changed",
					d.From, d.To, len(d.Added), len(d.Removed), len(d.Changed)),
			}
		}
	}
	return nil
}

func describeStateDiff(a, b TargetState) string {
	var parts []string
	for _, c := range model.Collections {
		if len(a[c]) != len(b[c]) {
			parts = append(parts, fmt.Sprintf("%s count %d vs %d", c, len(a[c]), len(b[c])))
			continue
		}
		for _, id := range slices.Sorted(maps.Keys(a[c])) {
			if a[c][id] != b[c][id] {
				parts = append(parts, fmt.Sprintf("%s %d changed", c, id))
			}
		}
	}
	return strings.Join(parts, ", ")
}

func assertFatal(result *Result, a Assertion) error {
	fatal := result.Last().Fatal
	if fatal == "" {
		return &AssertionError{Type: a.Type, Expected: "run aborted", Actual: "run finished: " + string(result.Last().Status)}
	}
	if a.Contains != "" && !strings.Contains(fatal, a.Contains) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("fatal cause containing %q", a.Contains), Actual: fatal}
	}
	return nil
}

// resolvePath walks a dotted path through maps and arrays.
func resolvePath(m map[string]any, path string) (any, error) {
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("path %s: no field %q", path, seg)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("path %s: bad index %q into %d elements", path, seg, len(node))
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("path %s: cannot descend into %T at %q", path, cur, seg)
		}
	}
	return cur, nil
}

// matchValue compares an expected YAML value against an actual canonical
// JSON value. Maps are subset-matched; everything else must be equal.
func matchValue(expected, actual any, path string) error {
	mismatch := func() error {
		return fmt.Errorf("%s: want %v, got %v", displayPath(path), expected, actual)
	}

	switch e := expected.(type) {
	case nil:
		if actual != nil {
			return mismatch()
		}
	case map[string]any:
		m, ok := actual.(map[string]any)
		if !ok {
			return mismatch()
		}
		for _, k := range slices.Sorted(maps.Keys(e)) {
			v, ok := m[k]
			if !ok {
				return fmt.Errorf("%s: missing", displayPath(join(path, k)))
			}
			if err := matchValue(e[k], v, join(path, k)); err != nil {
				return err
			}
		}
	case []any:
		arr, ok := actual.([]any)
		if !ok || len(arr) != len(e) {
			return mismatch()
		}
		for i := range e {
			if err := matchValue(e[i], arr[i], join(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
	case string:
		s, ok := actual.(string)
		if !ok {
			return mismatch()
		}
		if s != e && !sameTime(e, s) {
			return mismatch()
		}
	case time.Time:
		s, ok := actual.(string)
		if !ok || !sameTime(e.Format(time.RFC3339Nano), s) {
			return mismatch()
		}
	case bool:
		if b, ok := actual.(bool); !ok || b != e {
			return mismatch()
		}
	case int, int64, uint64:
		n, ok := actual.(json.Number)
		if !ok || n.String() != fmt.Sprint(e) {
			return mismatch()
		}
	default:
		if fmt.Sprint(expected) != fmt.Sprint(actual) {
			return mismatch()
		}
	}
	return nil
}

func sameTime(a, b string) bool {
	ta, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return false
	}
	tb, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return false
	}
	return ta.Equal(tb)
}

func join(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + "." + seg
}

func displayPath(path string) string {
	if path == "" {
		return "document"
	}
	return path
}
