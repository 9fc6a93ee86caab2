package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/denorm/internal/store"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Fixture    string
	Ledger     string
	Policy     string
	SampleSize int

	// Reader allows overriding the MongoDB target (for testing).
	// If nil, connects to MONGO_URI.
	Reader Target
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return newValidateCommand(&ValidateOptions{RootOptions: rootOpts})
}

// newValidateCommand builds the command around opts, which may carry test
// overrides.
func newValidateCommand(opts *ValidateOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the target against the source",
		Long: `Validate stored documents against a fresh extraction of the source.

Uses the mappings recorded in the ledger and the skipped records of the latest
run. Checks document counts, referential closure, sampled field values,
embedded array bounds and project statistics.

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Command error (ledger, source or target unavailable)

Examples:
  denorm validate
  denorm validate --fixture ./acme.yaml --sample-size 20
  denorm validate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "read the source dataset from a YAML file instead of PostgreSQL")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the run ledger (default LEDGER_PATH)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE file overriding the relationship policy")
	cmd.Flags().IntVar(&opts.SampleSize, "sample-size", 0, "records sampled per collection (default VALIDATE_SAMPLE_SIZE)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("ledger") {
		s.cfg.Run.LedgerPath = opts.Ledger
	}
	if flags.Changed("policy") {
		s.cfg.Run.PolicyFile = opts.Policy
	}
	if flags.Changed("sample-size") {
		s.cfg.Run.SampleSize = opts.SampleSize
	}
	if err := s.validate(); err != nil {
		return err
	}
	table, err := s.cfg.Policy()
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeConfig, "invalid relationship policy", err)
	}

	ctx, cancel := signalContext(cmd, s.log)
	defer cancel()

	ledger, closeLedger, err := s.openLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	mappings, err := ledger.LoadMappings(ctx, "")
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeLedger, "failed to read mappings", err)
	}
	var (
		errs  []transform.Error
		runID string
	)
	latest, err := ledger.LatestRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Warn("ledger has no runs; validating without skipped records")
	case err != nil:
		return s.out.Fail(ExitCommandError, CodeLedger, "failed to read latest run", err)
	default:
		runID = latest.ID
		if errs, err = ledger.ReadErrors(ctx, latest.ID); err != nil {
			return s.out.Fail(ExitCommandError, CodeLedger, "failed to read run errors", err)
		}
		s.log.Info("validating against run", slog.String("run_id", runID), slog.Int("errors", len(errs)))
	}

	source, closeSource, err := s.openSource(ctx, opts.Fixture)
	if err != nil {
		return err
	}
	defer closeSource()

	ds, err := source.Extract(ctx)
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeSource, "failed to extract source", err)
	}

	target, closeTarget, err := s.openTarget(ctx, opts.Reader)
	if err != nil {
		return err
	}
	defer closeTarget()

	v := validate.New(target,
		validate.WithPolicy(table),
		validate.WithSampleSize(s.cfg.Run.SampleSize),
		validate.WithLogger(s.log),
	)
	report, err := v.Validate(ctx, validate.Input{
		Dataset:  ds,
		Mappings: validate.Relevant(mappings, ds, errs),
		Errors:   errs,
	})
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeValidation, "validation could not complete", err)
	}

	if err := s.out.Render(runID, report, func(w io.Writer) {
		writeValidation(w, report, s.out.Verbose)
	}); err != nil {
		return err
	}

	if !report.Passed() {
		_, failed := report.Summary()
		return NewExitError(ExitFailure, fmt.Sprintf("%d checks failed", failed))
	}
	return nil
}
