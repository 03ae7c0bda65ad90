package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/config"
)

// newListCommand creates the "list" subcommand that prints tasks and hooks.
func newListCommand(opts *Options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available tasks and registered hooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			project, err := loadProject(opts, cmd, logger)
			if err != nil {
				return err
			}
			return writeTaskList(cmd, project, all)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden tasks")
	addVarsFlags(cmd)
	return cmd
}

func writeTaskList(cmd *cobra.Command, project *config.Project, all bool) error {
	out := cmd.OutOrStdout()
	p := newPainter(out)

	fmt.Fprintf(out, "Recipe: %s\n\nTasks:\n", project.Recipe.Name)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range project.Graph.Names() {
		task, err := project.Graph.Task(name)
		if err != nil {
			return err
		}
		if task.Hidden && !all {
			continue
		}
		label := p.paint(taskName, name)
		desc := task.Desc
		if task.IsGroup() {
			label = p.paint(groupName, name)
			if desc == "" {
				desc = strings.Join(task.Steps, ", ")
			}
		}
		fmt.Fprintf(tw, "  %s\t%s\n", label, desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	events := project.Hooks.Events()
	if len(events) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nHooks:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, event := range events {
		fmt.Fprintf(tw, "  %s\t%s %s\n", event, p.paint(dimText, "->"), strings.Join(project.Hooks.Targets(event), ", "))
	}
	return tw.Flush()
}
