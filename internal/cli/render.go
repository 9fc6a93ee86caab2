package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/denorm/internal/load"
	"github.com/roach88/denorm/internal/pipeline"
	"github.com/roach88/denorm/internal/transform"
	"github.com/roach88/denorm/internal/validate"
)

// maxTextErrors caps the error lines printed without --verbose.
const maxTextErrors = 10

func writeRunReport(w io.Writer, r *pipeline.Report, verbose bool) {
	mode := "migrate"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Run %s (%s): %s\n", r.RunID, mode, r.Status)
	fmt.Fprintf(w, "  overflow policy: %s\n", r.Overflow)
	fmt.Fprintf(w, "  mappings: %d restored, %d new\n", r.Restored, r.NewMappings)

	if len(r.Stages) > 0 {
		fmt.Fprintln(w, "Stages:")
		for _, st := range r.Stages {
			fmt.Fprintf(w, "  %-14s %5d produced %5d skipped\n", st.Stage, st.Succeeded, st.Skipped)
		}
	}

	if len(r.Batches) > 0 {
		t := load.Totals(r.Batches)
		fmt.Fprintf(w, "Load: %d inserted, %d updated, %d failed in %d batches\n",
			t.Inserted, t.Updated, t.Failed, len(r.Batches))
		for _, b := range r.Batches {
			for _, cause := range b.Causes {
				fmt.Fprintf(w, "  %s batch %d: %s\n", b.Collection, b.Batch, cause)
			}
		}
	}

	if r.Validation != nil {
		writeValidation(w, r.Validation, verbose)
	}

	writeErrors(w, r.Summary, r.Errors, verbose)

	if r.Fatal != "" {
		fmt.Fprintf(w, "Fatal: %s\n", r.Fatal)
	}
}

func writeValidation(w io.Writer, r *validate.Report, verbose bool) {
	passed, failed := r.Summary()
	fmt.Fprintf(w, "Validation: %d passed, %d failed\n", passed, failed)
	for _, c := range r.Checks {
		if c.Passed && !verbose {
			continue
		}
		mark := "ok  "
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %s %s: %s\n", mark, c.Name, c.Message)
		for _, f := range c.Failures {
			fmt.Fprintf(w, "       %s\n", f)
		}
		if c.Truncated > 0 {
			fmt.Fprintf(w, "       ... %d more\n", c.Truncated)
		}
	}
}

func writeErrors(w io.Writer, sum transform.Summary, errs []transform.Error, verbose bool) {
	if len(errs) == 0 {
		return
	}

	kinds := make([]string, 0, len(sum.ByKind))
	for k, n := range sum.ByKind {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	slices.Sort(kinds)
	fmt.Fprintf(w, "Errors: %d skipped, %d warnings (%s)\n", sum.Skipped, sum.Warnings, strings.Join(kinds, " "))

	shown := errs
	if !verbose && len(shown) > maxTextErrors {
		shown = shown[:maxTextErrors]
	}
	for _, e := range shown {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
	if len(shown) < len(errs) {
		fmt.Fprintf(w, "  ... %d more (use --verbose)\n", len(errs)-len(shown))
	}
}
