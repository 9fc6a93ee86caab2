package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/store"
)

// LedgerOptions holds flags shared by the commands that only read the
// run ledger.
type LedgerOptions struct {
	*RootOptions
	Ledger string
}

func (opts *LedgerOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the run ledger (default LEDGER_PATH)")
}

// open sets up the session and opens the ledger.
func (opts *LedgerOptions) open(cmd *cobra.Command) (*session, *store.Store, func(), error) {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cmd.Flags().Changed("ledger") {
		s.cfg.Run.LedgerPath = opts.Ledger
	}
	if err := s.validate(); err != nil {
		return nil, nil, nil, err
	}
	st, closeLedger, err := s.openLedger()
	if err != nil {
		return nil, nil, nil, err
	}
	return s, st, closeLedger, nil
}

// MappingsOptions holds flags for the mappings command.
type MappingsOptions struct {
	LedgerOptions
	Entity string
}

// NewMappingsCommand creates the mappings command.
func NewMappingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MappingsOptions{LedgerOptions: LedgerOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Print the persisted identifier registry",
		Long: `Print every (entity type, original id) -> generated id mapping recorded in
the run ledger, ordered by entity type then original id.

Examples:
  denorm mappings
  denorm mappings --entity project --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMappings(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "only print mappings of this entity type")

	return cmd
}

func runMappings(opts *MappingsOptions, cmd *cobra.Command) error {
	var entity model.EntityType
	if opts.Entity != "" {
		var err error
		if entity, err = model.ParseEntityType(opts.Entity); err != nil {
			return WrapExitError(ExitCommandError, "invalid --entity", err)
		}
	}

	s, st, closeLedger, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer closeLedger()

	snap, err := st.LoadMappings(cmd.Context(), entity)
	if err != nil {
		return s.out.Fail(ExitCommandError, CodeLedger, "failed to read mappings", err)
	}

	return s.out.Render("", snap, func(w io.Writer) {
		for _, m := range snap {
			fmt.Fprintf(w, "%-14s %10d  %s\n", m.Entity, m.OriginalID, m.GeneratedID.Hex())
		}
		fmt.Fprintf(w, "%d mappings\n", len(snap))
	})
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List every run recorded in the ledger, oldest first.

Examples:
  denorm runs
  denorm runs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, closeLedger, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeLedger()

			runs, err := st.ListRuns(cmd.Context())
			if err != nil {
				return s.out.Fail(ExitCommandError, CodeLedger, "failed to list runs", err)
			}
			return s.out.Render("", runs, func(w io.Writer) {
				for _, r := range runs {
					writeRunLine(w, r)
				}
				fmt.Fprintf(w, "%d runs\n", len(runs))
			})
		},
	}

	opts.bind(cmd)

	return cmd
}

func writeRunLine(w io.Writer, r store.Run) {
	finished := "-"
	if r.FinishedAt != nil {
		finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	}
	dry := ""
	if r.DryRun {
		dry = " (dry run)"
	}
	fmt.Fprintf(w, "%s  %s  %-9s %-8s %s%s\n",
		r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Status, r.Overflow, finished, dry)
	if r.FatalCause != "" {
		fmt.Fprintf(w, "    fatal: %s\n", r.FatalCause)
	}
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Compare the documents of two runs",
		Long: `Compare the document digests recorded by two runs.

A document is changed when its canonical content or its generated id differs.
Two runs over the same source with a shared ledger are identical.

Exit codes:
  0 - Runs produced identical documents
  1 - Runs differ
  2 - Command error (unknown run, ledger unavailable)

Examples:
  denorm diff 01927c3e-... 01927c41-...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, st, closeLedger, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeLedger()

			diff, err := st.CompareRuns(cmd.Context(), args[0], args[1])
			if errors.Is(err, store.ErrNotFound) {
				return s.out.Fail(ExitCommandError, CodeLedger, "unknown run", err)
			}
			if err != nil {
				return s.out.Fail(ExitCommandError, CodeLedger, "failed to compare runs", err)
			}

			if err := s.out.Render("", diff, func(w io.Writer) {
				writeDiff(w, diff)
			}); err != nil {
				return err
			}
			if !diff.Identical() {
				return NewExitError(ExitFailure, "runs differ")
			}
			return nil
		},
	}

	opts.bind(cmd)

	return cmd
}

func writeDiff(w io.Writer, d *store.RunDiff) {
	fmt.Fprintf(w, "%s -> %s\n", d.From, d.To)
	for _, k := range d.Added {
		fmt.Fprintf(w, "  + %s %d\n", k.Collection, k.OriginalID)
	}
	for _, k := range d.Removed {
		fmt.Fprintf(w, "  - %s %d\n", k.Collection, k.OriginalID)
	}
	for _, k := range d.Changed {
		fmt.Fprintf(w, "  ~ %s %d\n", k.Collection, k.OriginalID)
	}
	fmt.Fprintf(w, "%d added, %d removed, %d changed, %d unchanged\n",
		len(d.Added), len(d.Removed), len(d.Changed), d.Unchanged)
}
