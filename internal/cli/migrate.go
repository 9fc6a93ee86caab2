package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/pipeline"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DryRun     bool
	Clear      bool
	Strict     bool
	Fixture    string
	Policy     string
	Overflow   string
	Ledger     string
	Workers    int
	BatchSize  int
	SampleSize int

	// Target allows overriding the MongoDB target (for testing).
	// If nil, connects to MONGO_URI.
	Target Target

	// Generator allows overriding the id generator (for testing).
	// If nil, defaults to registry.ObjectIDGenerator.
	Generator registry.Generator
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return newMigrateCommand(&MigrateOptions{RootOptions: rootOpts})
}

// newMigrateCommand builds the command around opts, which may carry test
// overrides.
func newMigrateCommand(opts *MigrateOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Extract, transform, load and validate",
		Long: `Run a complete migration from PostgreSQL to MongoDB.

Records are extracted, transformed stage by stage (organizations, users,
labels, projects), upserted by original id, recorded in the run ledger and
validated against the extraction snapshot. Mappings from earlier runs are
restored first, so re-running rewrites the same documents under the same ids.

Exit codes:
  0 - Run succeeded and validation passed
  1 - Run finished with skipped records, load failures or failed checks
  2 - Run aborted, or command error (configuration, connections)

Examples:
  denorm migrate
  denorm migrate --dry-run --fixture ./testdata/acme.yaml
  denorm migrate --clear --overflow truncate --workers 8
  denorm migrate --policy ./policy.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "transform and record without writing to the target")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "empty the target collections before loading")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "abort when a project references an organization that was not extracted")
	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "read the source dataset from a YAML file instead of PostgreSQL")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE file overriding the relationship policy")
	cmd.Flags().StringVar(&opts.Overflow, "overflow", "", "overflow policy for every relationship (fail|truncate)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the run ledger (default LEDGER_PATH)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "record workers per stage (default WORKERS)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "documents per bulk write (default BATCH_SIZE)")
	cmd.Flags().IntVar(&opts.SampleSize, "sample-size", 0, "records sampled per collection during validation (default VALIDATE_SAMPLE_SIZE)")

	return cmd
}

func (opts *MigrateOptions) apply(cmd *cobra.Command, s *session) {
	run := &s.cfg.Run
	flags := cmd.Flags()
	if flags.Changed("policy") {
		run.PolicyFile = opts.Policy
	}
	if flags.Changed("overflow") {
		run.Overflow = opts.Overflow
	}
	if flags.Changed("ledger") {
		run.LedgerPath = opts.Ledger
	}
	if flags.Changed("workers") {
		run.Workers = opts.Workers
	}
	if flags.Changed("batch-size") {
		run.BatchSize = opts.BatchSize
	}
	if flags.Changed("sample-size") {
		run.SampleSize = opts.SampleSize
	}
	if flags.Changed("strict") {
		run.Strict = opts.Strict
	}
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	opts.apply(cmd, s)
	if err := s.validate(); err != nil {
		return err
	}

	table, err := s.cfg.Policy()
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeConfig, "invalid relationship policy", err)
	}

	ctx, cancel := signalContext(cmd, s.log)
	defer cancel()

	source, closeSource, err := s.openSource(ctx, opts.Fixture)
	if err != nil {
		return err
	}
	defer closeSource()

	ledger, closeLedger, err := s.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	engine := transform.New(
		transform.WithPolicy(table),
		transform.WithWorkers(s.cfg.Run.Workers),
		transform.WithStrict(s.cfg.Run.Strict),
		transform.WithLogger(s.log),
	)
	pipeOpts := []pipeline.Option{
		pipeline.WithEngine(engine),
		pipeline.WithLedger(ledger),
		pipeline.WithLogger(s.log),
	}
	if opts.Generator != nil {
		pipeOpts = append(pipeOpts, pipeline.WithGenerator(opts.Generator))
	}

	if !opts.DryRun {
		target, closeTarget, err := s.openTarget(ctx, opts.Target)
		if err != nil {
			return err
		}
		defer closeTarget()

		if se, ok := target.(schemaEnforcer); ok {
			if err := se.EnsureSchema(ctx, table); err != nil {
				return s.out.Fail(ExitCommandError, CodeTarget, "failed to apply collection validators", err)
			}
		}
		if ix, ok := target.(indexer); ok {
			if err := ix.EnsureIndexes(ctx); err != nil {
				return s.out.Fail(ExitCommandError, CodeTarget, "failed to create indexes", err)
			}
		}
		if opts.Clear {
			removed, err := target.Clear(ctx)
			if err != nil {
				return s.out.Fail(ExitCommandError, CodeTarget, "failed to clear target", err)
			}
			for c, n := range removed {
				s.log.Info("cleared collection", slog.String("collection", string(c)), slog.Int64("deleted", n))
			}
		}

		pipeOpts = append(pipeOpts,
			pipeline.WithLoader(load.New(target,
				load.WithBatchSize(s.cfg.Run.BatchSize),
				load.WithLogger(s.log),
			)),
			pipeline.WithValidator(validate.New(target,
				validate.WithPolicy(table),
				validate.WithSampleSize(s.cfg.Run.SampleSize),
				validate.WithLogger(s.log),
			)),
		)
	} else if opts.Clear {
		s.log.Warn("--clear ignored for a dry run")
	}

	report, runErr := pipeline.New(source, pipeOpts...).Run(ctx)
	if report == nil {
		return s.out.Fail(ExitCommandError, CodeRun, "migration failed", runErr)
	}

	if err := s.out.Render(report.RunID, report, func(w io.Writer) {
		writeRunReport(w, report, s.out.Verbose)
	}); err != nil {
		return err
	}

	switch {
	case runErr != nil:
		return WrapExitError(ExitCommandError, "migration aborted", runErr)
	case report.Status != store.StatusSucceeded:
		return NewExitError(ExitFailure, fmt.Sprintf("run %s finished with status %s", report.RunID, report.Status))
	}
	return nil
}
