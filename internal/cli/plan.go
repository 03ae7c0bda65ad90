package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/hooks"
)

// newPlanCommand creates the "plan" subcommand that prints the order a task would run in.
func newPlanCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <task>",
		Short: "Print the tasks an invocation would start, in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())
			project, err := loadProject(opts, cmd, logger)
			if err != nil {
				return err
			}
			order, err := project.Graph.Plan(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := newPainter(out)
			for i, name := range order {
				task, err := project.Graph.Task(name)
				if err != nil {
					return err
				}
				label := p.paint(taskName, name)
				if task.IsGroup() {
					label = p.paint(groupName, name) + p.paint(dimText, " (group)")
				}
				fmt.Fprintf(out, "%3d. %s\n", i+1, label)
			}
			if targets := project.Hooks.Targets(hooks.FailedEvent(args[0])); len(targets) > 0 {
				fmt.Fprintf(out, "on failure: %s\n", strings.Join(targets, ", "))
			}
			return nil
		},
	}
	addVarsFlags(cmd)
	return cmd
}
