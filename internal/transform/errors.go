package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/denorm/internal/model"
)

// Kind categorizes transform errors.
type Kind string

const (
	// KindMissingReference indicates a foreign key that does not resolve to a
	// record produced in this run.
	KindMissingReference Kind = "MISSING_REFERENCE"

	// KindBoundExceeded indicates an embedded array over its policy bound.
	KindBoundExceeded Kind = "BOUND_EXCEEDED"

	// KindDuplicateOriginalID indicates the same source key extracted twice
	// with conflicting field values.
	KindDuplicateOriginalID Kind = "DUPLICATE_ORIGINAL_ID"

	// KindRegistryExhaustion indicates identifier allocation failed.
	KindRegistryExhaustion Kind = "REGISTRY_EXHAUSTION"
)

// Error is one entry of the per-run error list.
//
// Record-level errors (Skipped=true) mean the record produced no document.
// Warnings (Skipped=false) mean a document was still produced: duplicates
// resolved last-write-wins and truncated arrays.
type Error struct {
	// Kind identifies the error category.
	Kind Kind `json:"kind"`

	// Entity and OriginalID locate the source record.
	Entity     model.EntityType `json:"entity_type"`
	OriginalID int64            `json:"original_id"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Skipped is true when the record was left out of the output.
	Skipped bool `json:"skipped"`

	// Details contains additional context, e.g. missing_entity/missing_id.
	Details map[string]string `json:"details,omitempty"`

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %d: %s", e.Kind, e.Entity, e.OriginalID, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Key returns the source key the error is about.
func (e *Error) Key() model.Key {
	return model.KeyOf(e.Entity, e.OriginalID)
}

// IsMissingReference returns true if err is a MISSING_REFERENCE error.
// Uses errors.As to handle wrapped errors.
func IsMissingReference(err error) bool {
	return hasKind(err, KindMissingReference)
}

// IsBoundExceeded returns true if err is a BOUND_EXCEEDED error.
func IsBoundExceeded(err error) bool {
	return hasKind(err, KindBoundExceeded)
}

// IsDuplicateOriginalID returns true if err is a DUPLICATE_ORIGINAL_ID warning.
func IsDuplicateOriginalID(err error) bool {
	return hasKind(err, KindDuplicateOriginalID)
}

// IsRegistryExhaustion returns true if err is a REGISTRY_EXHAUSTION error.
func IsRegistryExhaustion(err error) bool {
	return hasKind(err, KindRegistryExhaustion)
}

func hasKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// ErrStageOrder reports a stage run before one of its dependencies, or a
// dependency graph that cannot be ordered. Always run-fatal.
var ErrStageOrder = errors.New("invalid stage order")

// newMissingReference creates a record-level MISSING_REFERENCE error.
func newMissingReference(entity model.EntityType, originalID int64, missing model.EntityType, missingID int64, context string) *Error {
	return &Error{
		Kind:       KindMissingReference,
		Entity:     entity,
		OriginalID: originalID,
		Message:    fmt.Sprintf("%s references %s %d which was not produced in this run", context, missing, missingID),
		Skipped:    true,
		Details: map[string]string{
			"missing_entity": string(missing),
			"missing_id":     strconv.FormatInt(missingID, 10),
		},
	}
}

// newBoundExceeded creates a BOUND_EXCEEDED error. With truncate set the
// record is still produced and the error is a warning.
func newBoundExceeded(entity model.EntityType, originalID int64, relationship string, count, bound int, truncate bool) *Error {
	msg := fmt.Sprintf("%s has %d elements, bound is %d", relationship, count, bound)
	if truncate {
		msg += "; truncated"
	}
	return &Error{
		Kind:       KindBoundExceeded,
		Entity:     entity,
		OriginalID: originalID,
		Message:    msg,
		Skipped:    !truncate,
		Details: map[string]string{
			"relationship": relationship,
			"count":        strconv.Itoa(count),
			"bound":        strconv.Itoa(bound),
		},
	}
}

// newDuplicate creates a DUPLICATE_ORIGINAL_ID warning.
func newDuplicate(entity model.EntityType, originalID int64, what string, occurrence int) *Error {
	return &Error{
		Kind:       KindDuplicateOriginalID,
		Entity:     entity,
		OriginalID: originalID,
		Message:    fmt.Sprintf("%s extracted more than once with conflicting values; occurrence %d wins", what, occurrence),
		Details: map[string]string{
			"source":     what,
			"occurrence": strconv.Itoa(occurrence),
		},
	}
}

// newExhaustion wraps a registry allocation failure.
func newExhaustion(entity model.EntityType, originalID int64, err error) *Error {
	return &Error{
		Kind:       KindRegistryExhaustion,
		Entity:     entity,
		OriginalID: originalID,
		Message:    err.Error(),
		Skipped:    true,
		err:        err,
	}
}

// Summary counts the entries of an error list.
type Summary struct {
	Skipped  int          `json:"skipped"`
	Warnings int          `json:"warnings"`
	ByKind   map[Kind]int `json:"by_kind"`
}

// Summarize counts errs by kind and severity.
func Summarize(errs []Error) Summary {
	s := Summary{ByKind: make(map[Kind]int)}
	for _, e := range errs {
		if e.Skipped {
			s.Skipped++
		} else {
			s.Warnings++
		}
		s.ByKind[e.Kind]++
	}
	return s
}

// SortErrors orders errs by entity type, original id, kind, then message.
func SortErrors(errs []Error) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.OriginalID != b.OriginalID {
			return a.OriginalID < b.OriginalID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Message < b.Message
	})
}
