// Package pipeline runs a complete migration: extract, transform stage by
// stage, load, record in the ledger, validate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/denorm/internal/extract"
	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// Pipeline wires the components of one migration. Only the extractor is
// required: without a loader the run is a dry run, without a ledger nothing
// is recorded, and without a validator the run is not validated.
type Pipeline struct {
	extractor extract.Extractor
	engine    *transform.Engine
	loader    *load.Loader
	ledger    *store.Store
	validator *validate.Validator
	generator registry.Generator
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEngine sets the transform engine. Default: transform.New().
func WithEngine(e *transform.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithLoader enables loading.
func WithLoader(l *load.Loader) Option {
	return func(p *Pipeline) { p.loader = l }
}

// WithLedger records the run, restores the registry from earlier runs and
// persists mappings, errors and digests.
func WithLedger(s *store.Store) Option {
	return func(p *Pipeline) { p.ledger = s }
}

// WithValidator validates loaded documents after the run.
func WithValidator(v *validate.Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithGenerator sets the id generator of the run's registry.
// Default: registry.ObjectIDGenerator.
func WithGenerator(g registry.Generator) Option {
	return func(p *Pipeline) { p.generator = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID fixes the run id instead of generating a UUIDv7.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.newRunID = func() (string, error) { return id, nil }
	}
}

// New creates a pipeline reading from ex.
func New(ex extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: ex,
		logger:    slog.Default(),
		now:       time.Now,
		newRunID:  store.NewRunID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = transform.New(transform.WithLogger(p.logger))
	}
	p.logger = p.logger.With(logger.Scope("pipeline"))
	return p
}

// Run executes the migration. A fatal error aborts the run and is returned
// together with the report built so far; record-level problems only show up
// in the report.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	runID, err := p.newRunID()
	if err != nil {
		return nil, err
	}
	report := &Report{
		RunID:     runID,
		DryRun:    p.loader == nil,
		StartedAt: p.now(),
		Overflow:  p.engine.Policy().Overflow(),
		Documents: make(map[model.Collection][]model.Document),
	}
	log := p.logger.With(slog.String("run_id", runID))

	if p.ledger != nil {
		if err := p.ledger.BeginRun(ctx, store.Run{
			ID:        runID,
			StartedAt: report.StartedAt,
			Overflow:  report.Overflow,
			DryRun:    report.DryRun,
		}); err != nil {
			return report, err
		}
	}
	log.Info("run started", slog.Bool("dry_run", report.DryRun))

	err = p.run(ctx, report, log)
	report.FinishedAt = p.now()
	report.Status = report.status(err)
	if err != nil {
		report.Fatal = err.Error()
		log.Error("run aborted", logger.Error(err))
	}

	if p.ledger != nil {
		// Record the outcome even when ctx was cancelled.
		finishCtx := context.WithoutCancel(ctx)
		if err != nil && !report.errorsSaved && len(report.Errors) > 0 {
			if serr := p.ledger.SaveErrors(finishCtx, runID, report.Errors); serr != nil {
				log.Error("failed to save errors of aborted run", logger.Error(serr))
			}
		}
		if ferr := p.ledger.FinishRun(finishCtx, runID, report.Status, report.Fatal, report.FinishedAt); ferr != nil {
			log.Error("failed to finish run in ledger", logger.Error(ferr))
			err = errors.Join(err, ferr)
		}
	}

	log.Info("run finished",
		slog.String("status", string(report.Status)),
		slog.Int("skipped", report.Summary.Skipped),
		slog.Int("warnings", report.Summary.Warnings),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *Report, log *slog.Logger) error {
	ds, err := p.extractor.Extract(ctx)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	counts := ds.Counts()
	log.Info("extracted",
		slog.Int("organizations", counts[model.EntityOrganization]),
		slog.Int("users", counts[model.EntityUser]),
		slog.Int("labels", counts[model.EntityLabel]),
		slog.Int("projects", counts[model.EntityProject]),
		slog.Int("tasks", counts[model.EntityTask]),
		slog.Int("comments", counts[model.EntityComment]),
	)

	reg := registry.New(p.generator)
	if p.ledger != nil {
		n, err := p.ledger.RestoreRegistry(ctx, reg)
		if err != nil {
			return err
		}
		report.Restored = n
		if n > 0 {
			log.Info("registry restored", slog.Int("mappings", n))
		}
	}

	run := p.engine.Begin(ds, reg)
	defer func() {
		report.Errors = run.Errors()
		report.Summary = transform.Summarize(report.Errors)
		report.Registry = reg.Export().Where(func(m registry.Mapping) bool {
			return run.Produced(m.Key())
		})
	}()

	for _, s := range transform.Stages() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before stage %s: %w", s, err)
		}
		res, err := run.Stage(ctx, s)
		if err != nil {
			return fmt.Errorf("stage %s: %w", s, err)
		}
		report.Stages = append(report.Stages, StageReport{
			Stage:     s,
			Succeeded: res.Succeeded(),
			Skipped:   res.Skipped,
			Errors:    len(res.Errors),
		})
		report.Documents[s.Collection()] = res.Documents

		if p.loader != nil {
			stats, err := p.loader.Load(ctx, s.Collection(), res.Documents)
			report.Batches = append(report.Batches, stats...)
			if err != nil {
				return err
			}
		}
	}

	if err := p.persist(ctx, report, run, reg); err != nil {
		return err
	}

	if p.validator != nil && p.loader != nil {
		v, err := p.validator.Validate(ctx, validate.Input{
			Dataset:  ds,
			Mappings: reg.Export().Where(func(m registry.Mapping) bool { return run.Produced(m.Key()) }),
			Errors:   run.Errors(),
		})
		if err != nil {
			return err
		}
		report.Validation = v
	}
	return nil
}

// persist writes the run's mappings, errors and digests to the ledger.
// Mappings of a dry run are not kept, since nothing was loaded under them.
func (p *Pipeline) persist(ctx context.Context, report *Report, run *transform.Run, reg *registry.Registry) error {
	if p.ledger == nil {
		return nil
	}
	if p.loader != nil {
		n, err := p.ledger.SaveMappings(ctx, report.RunID, reg.Export())
		if err != nil {
			return err
		}
		report.NewMappings = n
	}
	if err := p.ledger.SaveErrors(ctx, report.RunID, run.Errors()); err != nil {
		return err
	}
	report.errorsSaved = true
	var docs []model.Document
	for _, c := range model.Collections {
		docs = append(docs, report.Documents[c]...)
	}
	return p.ledger.SaveDigests(ctx, report.RunID, docs)
}
