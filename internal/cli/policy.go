package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// PolicyOptions holds flags for the policy command.
type PolicyOptions struct {
	*RootOptions
	Policy   string
	Overflow string
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective relationship policy",
		Long: `Print the relationship policy a migration would use: the built-in table,
overridden by POLICY_FILE or --policy, with OVERFLOW_POLICY or --overflow
applied last. A policy file that does not validate is reported with its
position.

Examples:
  denorm policy
  denorm policy --policy ./policy.cue --overflow truncate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("policy") {
				s.cfg.Run.PolicyFile = opts.Policy
			}
			if cmd.Flags().Changed("overflow") {
				s.cfg.Run.Overflow = opts.Overflow
			}
			if err := s.validate(); err != nil {
				return err
			}
			table, err := s.cfg.Policy()
			if err != nil {
				return s.out.Fail(ExitCommandError, CodeConfig, "invalid relationship policy", err)
			}

			rules := table.Rules()
			return s.out.Render("", rules, func(w io.Writer) {
				fmt.Fprintf(w, "default overflow: %s\n", table.Overflow())
				for _, r := range rules {
					if !r.Embedded() {
						line := fmt.Sprintf("%-22s %-9s", r.Relationship, r.Mode)
						if len(r.Denormalize) > 0 {
							line += " denormalize " + strings.Join(r.Denormalize, ",")
						}
						fmt.Fprintln(w, line)
						continue
					}
					fmt.Fprintf(w, "%-22s %-9s bound %-4d overflow %s\n", r.Relationship, r.Mode, r.Bound, r.Overflow)
				}
			})
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE file overriding the relationship policy")
	cmd.Flags().StringVar(&opts.Overflow, "overflow", "", "overflow policy for every relationship (fail|truncate)")

	return cmd
}
