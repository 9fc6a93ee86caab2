package policy

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// requiredMode fixes the mode of each relationship. The engine builds tasks,
// assignees, labels, comments and memberships as embedded arrays and never
// embeds organizations, so a policy may tune bounds and overflow but not flip
// a mode.
var requiredMode = map[Relationship]Mode{
	UserMemberships:     ModeEmbed,
	ProjectTasks:        ModeEmbed,
	TaskAssignees:       ModeEmbed,
	TaskLabels:          ModeEmbed,
	TaskComments:        ModeEmbed,
	ProjectOrganization: ModeReference,
	LabelOrganization:   ModeReference,
}

// denormalizable lists the referenced fields each relationship may copy
// into the referencing document.
var denormalizable = map[Relationship][]string{
	ProjectOrganization: {"name"},
}

type ruleSource struct {
	Mode        string   `json:"mode"`
	Bound       int      `json:"bound"`
	Overflow    string   `json:"overflow"`
	Denormalize []string `json:"denormalize"`
}

func compile(filename string, src []byte, base *Table) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	raw := ctx.CompileBytes(src, cue.Filename(filename))
	if err := raw.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(raw)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	top, err := raw.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for top.Next() {
		switch top.Label() {
		case "overflow", "relationships":
		default:
			return nil, &CompileError{
				Field:   top.Label(),
				Message: "unknown field (want overflow or relationships)",
				Pos:     top.Value().Pos(),
			}
		}
	}

	table := &Table{overflow: OverflowFail, rules: make(map[Relationship]Rule)}
	if base != nil {
		table = base.clone()
	}

	if ov := v.LookupPath(cue.ParsePath("overflow")); ov.Exists() {
		s, err := ov.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		table.overflow = Overflow(s)
	}

	if rels := v.LookupPath(cue.ParsePath("relationships")); rels.Exists() {
		iter, err := rels.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name := iter.Label()
			pos := raw.LookupPath(cue.MakePath(cue.Str("relationships"), cue.Str(name))).Pos()

			rule, err := compileRule(Relationship(name), iter.Value(), pos)
			if err != nil {
				return nil, err
			}
			table.rules[rule.Relationship] = rule
		}
	}

	for _, rel := range Relationships {
		if _, ok := table.rules[rel]; !ok {
			return nil, &CompileError{
				Field:   "relationships",
				Message: fmt.Sprintf("missing rule for %s", rel),
				Pos:     raw.Pos(),
			}
		}
	}

	return table, nil
}

func compileRule(rel Relationship, v cue.Value, pos token.Pos) (Rule, error) {
	field := "relationships." + string(rel)

	if !rel.known() {
		return Rule{}, &CompileError{Field: field, Message: "unknown relationship", Pos: pos}
	}

	var src ruleSource
	if err := v.Decode(&src); err != nil {
		return Rule{}, formatCUEError(err)
	}

	rule := Rule{
		Relationship: rel,
		Mode:         Mode(src.Mode),
		Bound:        src.Bound,
		Overflow:     Overflow(src.Overflow),
		Denormalize:  src.Denormalize,
	}

	if want := requiredMode[rel]; rule.Mode != want {
		return Rule{}, &CompileError{
			Field:   field + ".mode",
			Message: fmt.Sprintf("%s must be %q, got %q", rel, want, rule.Mode),
			Pos:     pos,
		}
	}

	for _, f := range rule.Denormalize {
		if !slices.Contains(denormalizable[rel], f) {
			return Rule{}, &CompileError{
				Field:   field + ".denormalize",
				Message: fmt.Sprintf("%s cannot denormalize %q", rel, f),
				Pos:     pos,
			}
		}
	}

	switch rule.Mode {
	case ModeEmbed:
		if rule.Bound == 0 {
			return Rule{}, &CompileError{Field: field + ".bound", Message: "embedded relationships require a bound", Pos: pos}
		}
	case ModeReference:
		if rule.Bound != 0 || rule.Overflow != "" {
			return Rule{}, &CompileError{Field: field, Message: "references take no bound or overflow", Pos: pos}
		}
	}

	return rule, nil
}

// CompileError is a policy error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
