package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/denorm/internal/extract"
	"github.com/roach88/denorm/internal/model"
	"github.com/roach88/denorm/internal/pipeline"
	"github.com/roach88/denorm/internal/registry"
	"github.com/roach88/denorm/internal/transform"
)

// TransformOptions holds flags for the transform command.
type TransformOptions struct {
	*RootOptions
	Fixture    string
	Out        string
	Policy     string
	Overflow   string
	Workers    int
	Strict     bool
	Sequential bool
}

// TransformResult summarizes an offline transform.
type TransformResult struct {
	Documents map[model.Collection]int `json:"documents"`
	Mappings  int                      `json:"mappings"`
	Summary   transform.Summary        `json:"summary"`
	Errors    []transform.Error        `json:"errors"`
	Files     []string                 `json:"files,omitempty"`
}

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransformOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform a fixture offline",
		Long: `Transform a YAML dataset without touching any database.

With --out, writes one canonical JSON file per collection plus mappings.json
and errors.json. With --sequential, generated ids are counters instead of
ObjectIDs, so output is byte-for-byte reproducible.

Examples:
  denorm transform --fixture ./acme.yaml
  denorm transform --fixture ./acme.yaml --out ./out --sequential`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "YAML dataset to transform (required)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "directory to write documents, mappings and errors to")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE file overriding the relationship policy")
	cmd.Flags().StringVar(&opts.Overflow, "overflow", "", "overflow policy for every relationship (fail|truncate)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "record workers per stage (default WORKERS)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "abort when a project references an organization that was not extracted")
	cmd.Flags().BoolVar(&opts.Sequential, "sequential", false, "issue sequential ids for reproducible output")
	_ = cmd.MarkFlagRequired("fixture")

	return cmd
}

func runTransform(opts *TransformOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("policy") {
		s.cfg.Run.PolicyFile = opts.Policy
	}
	if flags.Changed("overflow") {
		s.cfg.Run.Overflow = opts.Overflow
	}
	if flags.Changed("workers") {
		s.cfg.Run.Workers = opts.Workers
	}
	if flags.Changed("strict") {
		s.cfg.Run.Strict = opts.Strict
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

	pipeOpts := []pipeline.Option{
		pipeline.WithEngine(transform.New(
			transform.WithPolicy(table),
			transform.WithWorkers(s.cfg.Run.Workers),
			transform.WithStrict(s.cfg.Run.Strict),
			transform.WithLogger(s.log),
		)),
		pipeline.WithLogger(s.log),
		pipeline.WithRunID("offline"),
	}
	if opts.Sequential {
		pipeOpts = append(pipeOpts, pipeline.WithGenerator(registry.NewSequentialGenerator()))
	}

	report, runErr := pipeline.New(extract.NewFile(opts.Fixture), pipeOpts...).Run(ctx)
	if runErr != nil {
		return s.out.Fail(ExitCommandError, CodeRun, "transform failed", runErr)
	}

	result := TransformResult{
		Documents: make(map[model.Collection]int, len(model.Collections)),
		Mappings:  len(report.Registry),
		Summary:   report.Summary,
		Errors:    report.Errors,
	}
	for _, c := range model.Collections {
		result.Documents[c] = len(report.Documents[c])
	}

	if opts.Out != "" {
		files, err := writeTransformOutput(opts.Out, report)
		if err != nil {
			return s.out.Fail(ExitCommandError, CodeConfig, "failed to write output", err)
		}
		result.Files = files
	}

	if err := s.out.Render("", result, func(w io.Writer) {
		for _, c := range model.Collections {
			fmt.Fprintf(w, "%-14s %5d documents\n", c, result.Documents[c])
		}
		fmt.Fprintf(w, "%-14s %5d\n", "mappings", result.Mappings)
		writeErrors(w, result.Summary, result.Errors, s.out.Verbose)
		for _, f := range result.Files {
			fmt.Fprintf(w, "wrote %s\n", f)
		}
	}); err != nil {
		return err
	}

	if result.Summary.Skipped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d records skipped", result.Summary.Skipped))
	}
	return nil
}

// outputFile is one file written by writeTransformOutput.
type outputFile struct {
	name string
	v    any
}

// writeTransformOutput writes canonical JSON for each collection, the
// produced mappings and the error list into dir.
func writeTransformOutput(dir string, r *pipeline.Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	outputs := make([]outputFile, 0, len(model.Collections)+2)
	for _, c := range model.Collections {
		docs := r.Documents[c]
		if docs == nil {
			docs = []model.Document{}
		}
		outputs = append(outputs, outputFile{string(c) + ".json", docs})
	}
	mappings := r.Registry
	if mappings == nil {
		mappings = registry.Snapshot{}
	}
	errs := r.Errors
	if errs == nil {
		errs = []transform.Error{}
	}
	outputs = append(outputs, outputFile{"mappings.json", mappings}, outputFile{"errors.json", errs})

	files := make([]string, 0, len(outputs))
	for _, o := range outputs {
		data, err := model.CanonicalJSON(o.v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.name, err)
		}
		path := filepath.Join(dir, o.name)
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}
