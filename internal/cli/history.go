package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/config"
	"github.com/unleashedtech/cmsdeploy/internal/history"
)

const historyTimeFormat = "2006-01-02 15:04:05"

// newHistoryCommand creates the "history" subcommand that shows recorded runs.
func newHistoryCommand(opts *Options) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded deploy runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())
			if opts.NoHistory {
				return fmt.Errorf("history is disabled (--no-history)")
			}

			configured := ""
			if loaded, err := config.Load(opts.ConfigPath, config.LoadOptions{}); err == nil {
				configured = loaded.Config.History
			} else {
				logger.Debug("config not loaded; using default history path", "error", err)
			}
			path, err := historyPath(opts, configured)
			if err != nil {
				return err
			}
			store, err := history.Open(path, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if runID != "" {
				outcomes, err := store.Tasks(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return writeTaskOutcomes(out, outcomes)
			}
			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeRuns(out, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "Show the task outcomes of one run")
	return cmd
}

func writeRuns(out io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}
	p := newPainter(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOST\tTASK\tRELEASE\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Host, r.Task, dash(r.Release), paintStatus(p, r.Status),
			r.StartedAt.Local().Format(historyTimeFormat), duration)
	}
	return tw.Flush()
}

func writeTaskOutcomes(out io.Writer, outcomes []history.TaskOutcome) error {
	if len(outcomes) == 0 {
		_, err := fmt.Fprintln(out, "no tasks recorded for this run")
		return err
	}
	p := newPainter(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tEXIT\tDURATION\tERROR")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			o.Task, paintStatus(p, o.Status), o.ExitCode, o.Duration.Round(time.Millisecond), dash(o.Error))
	}
	return tw.Flush()
}

func paintStatus(p painter, status string) string {
	switch status {
	case history.StatusSucceeded:
		return p.paint(statusOK, status)
	case history.StatusFailed:
		return p.paint(statusFail, status)
	default:
		return p.paint(statusRun, status)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
