package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/policy"
	"github.com/roach88/denorm/internal/registry"
)

// DefaultWorkers is the default number of parallel build workers per stage.
const DefaultWorkers = 4

// Engine holds the configuration shared by runs. It is immutable and safe to
// reuse; all per-run state lives in Run.
type Engine struct {
	policy  *policy.Table
	workers int
	logger  *slog.Logger
	strict  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the relationship policy table.
// Default: policy.Default().
func WithPolicy(t *policy.Table) Option {
	return func(e *Engine) {
		e.policy = t
	}
}

// WithWorkers sets the number of parallel build workers per stage.
// Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = max(n, 1)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithStrict makes a project whose organization is missing from the
// extraction fatal for the run instead of a skipped record.
func WithStrict(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy == nil {
		e.policy = policy.Default()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(logger.Scope("transform"))
	return e
}

// Policy returns the relationship policy the engine applies.
func (e *Engine) Policy() *policy.Table {
	return e.policy
}

// Run is the state of one migration run: the dataset index, the registry and
// the errors accumulated so far. Stages must be called from one goroutine.
type Run struct {
	engine *Engine
	reg    *registry.Registry
	ix     *index

	// produced holds every key finalized in this run. Written only during the
	// allocate phase, read by build workers of later stages.
	produced map[model.Key]bool
	done     map[Stage]bool
	errors   []Error
}

// Begin indexes ds and starts a run that allocates ids from reg.
// Duplicate source rows are reported immediately as warnings.
func (e *Engine) Begin(ds *model.Dataset, reg *registry.Registry) *Run {
	r := &Run{
		engine:   e,
		reg:      reg,
		ix:       buildIndex(ds),
		produced: make(map[model.Key]bool),
		done:     make(map[Stage]bool),
	}
	for _, w := range r.ix.warnings {
		r.record(w)
	}
	return r
}

// Registry returns the registry the run allocates from.
func (r *Run) Registry() *registry.Registry {
	return r.reg
}

// Errors returns every error and warning accumulated so far, in the order
// they were found.
func (r *Run) Errors() []Error {
	return append([]Error(nil), r.errors...)
}

// Produced reports whether key was finalized in this run.
func (r *Run) Produced(key model.Key) bool {
	return r.produced[key]
}

// StageResult is the output of one stage.
type StageResult struct {
	Stage Stage

	// Documents are ordered by original id.
	Documents []model.Document

	// Skipped counts records of this stage's entity that produced no document.
	Skipped int

	// Errors found during the stage, including those about embedded records.
	Errors []Error
}

// Succeeded returns the number of documents produced.
func (s *StageResult) Succeeded() int {
	return len(s.Documents)
}

// Stage transforms every record of one stage. Each dependency of s must have
// completed. A non-nil error is fatal for the run; record-level problems are
// reported in the result instead.
func (r *Run) Stage(ctx context.Context, s Stage) (*StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deps, known := dependencies[s]
	if !known {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrStageOrder, s)
	}
	if r.done[s] {
		return nil, fmt.Errorf("%w: stage %s already ran", ErrStageOrder, s)
	}
	for _, d := range deps {
		if !r.done[d] {
			return nil, fmt.Errorf("%w: stage %s requires %s", ErrStageOrder, s, d)
		}
	}

	log := r.engine.logger.With(slog.String("stage", string(s)))
	log.Debug("stage starting")

	var (
		res *StageResult
		err error
	)
	switch s {
	case StageOrganizations:
		res, err = r.organizations()
	case StageUsers:
		res, err = r.users()
	case StageLabels:
		res, err = r.labels()
	case StageProjects:
		res, err = r.projects()
	}
	if err != nil {
		// The record that aborted the run is kept with the others.
		var te *Error
		if errors.As(err, &te) {
			r.record(*te)
		}
		log.Error("stage aborted", logger.Error(err))
		return nil, err
	}

	r.done[s] = true
	for _, e := range res.Errors {
		r.record(e)
	}

	log.Info("stage complete",
		slog.Int("succeeded", res.Succeeded()),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}

func (r *Run) record(e Error) {
	r.errors = append(r.errors, e)

	attrs := []any{
		slog.String("kind", string(e.Kind)),
		logger.Entity(e.Entity, e.OriginalID),
		slog.String("reason", e.Message),
	}
	if e.Skipped {
		r.engine.logger.Warn("record skipped", attrs...)
	} else {
		r.engine.logger.Warn("record warning", attrs...)
	}
}

// build runs fn for 0..n-1 on the engine's worker pool and waits.
func (r *Run) build(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(r.engine.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// ref resolves a reference to a record produced earlier in the run.
// Safe for concurrent use during the build phase.
func (r *Run) ref(entity model.EntityType, originalID int64) (primitive.ObjectID, bool) {
	if !r.produced[model.KeyOf(entity, originalID)] {
		return primitive.NilObjectID, false
	}
	return r.reg.Lookup(entity, originalID)
}

// allocate resolves the generated id of a finalized record and marks it
// produced. Allocate phase only.
func (r *Run) allocate(entity model.EntityType, originalID int64) (primitive.ObjectID, error) {
	id, err := r.reg.Resolve(entity, originalID)
	if err != nil {
		return primitive.NilObjectID, newExhaustion(entity, originalID, err)
	}
	r.produced[model.KeyOf(entity, originalID)] = true
	return id, nil
}

// Result is the output of a complete run.
type Result struct {
	Organizations []model.OrganizationDoc
	Users         []model.UserDoc
	Labels        []model.LabelDoc
	Projects      []model.ProjectDoc

	Stages []*StageResult
	Errors []Error
}

// Documents returns the documents of one collection in load order.
func (r *Result) Documents(c model.Collection) []model.Document {
	for _, s := range r.Stages {
		if s.Stage.Collection() == c {
			return s.Documents
		}
	}
	return nil
}

func (r *Result) add(s *StageResult) {
	r.Stages = append(r.Stages, s)
	for _, d := range s.Documents {
		switch doc := d.(type) {
		case model.OrganizationDoc:
			r.Organizations = append(r.Organizations, doc)
		case model.UserDoc:
			r.Users = append(r.Users, doc)
		case model.LabelDoc:
			r.Labels = append(r.Labels, doc)
		case model.ProjectDoc:
			r.Projects = append(r.Projects, doc)
		}
	}
}

// Transform runs every stage over ds, checking ctx between stages. On a
// fatal error the partial result built so far is returned with the error.
func (e *Engine) Transform(ctx context.Context, ds *model.Dataset, reg *registry.Registry) (*Result, error) {
	run := e.Begin(ds, reg)
	result := &Result{}

	for _, s := range Stages() {
		res, err := run.Stage(ctx, s)
		if err != nil {
			result.Errors = run.Errors()
			return result, err
		}
		result.add(res)
	}

	result.Errors = run.Errors()
	return result, nil
}
