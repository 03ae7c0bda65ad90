package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unleashedtech/cmsdeploy/internal/config"
	"github.com/unleashedtech/cmsdeploy/internal/env"
	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/ghoutput"
	"github.com/unleashedtech/cmsdeploy/internal/history"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/scheduler"
)

const (
	deployTask         = "deploy"
	defaultHistoryPath = "~/.cmsdeploy/history.db"
)

// deployOptions holds flags shared by deploy and run.
type deployOptions struct {
	parallel int
}

// newDeployCommand creates the "deploy" subcommand that invokes the deploy task on hosts.
func newDeployCommand(opts *Options) *cobra.Command {
	dOpts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy [hosts...]",
		Short: "Deploy a new release to the selected hosts (all hosts when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskOnHosts(cmd, opts, dOpts, deployTask, args, true)
		},
	}
	addDeployFlags(cmd, dOpts)
	return cmd
}

// newRunCommand creates the "run" subcommand that invokes any task or alias.
func newRunCommand(opts *Options) *cobra.Command {
	dOpts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "run <task> [hosts...]",
		Short: "Run a single task (and its dependencies) on the selected hosts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskOnHosts(cmd, opts, dOpts, args[0], args[1:], false)
		},
	}
	addDeployFlags(cmd, dOpts)
	return cmd
}

func addDeployFlags(cmd *cobra.Command, dOpts *deployOptions) {
	cmd.Flags().IntVar(&dOpts.parallel, "parallel", 1, "Maximum number of hosts processed concurrently (0 = unlimited)")
	addVarsFlags(cmd)
}

// applyDeployEnv fills --parallel and the host list from CMSDEPLOY_* when not given on the command line.
func applyDeployEnv(cmd *cobra.Command, dOpts *deployOptions, hosts []string) ([]string, error) {
	var envCfg deployEnv
	if err := parseEnv(&envCfg); err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("parallel") && envPresent("CMSDEPLOY_PARALLEL") {
		dOpts.parallel = envCfg.Parallel
	}
	if dOpts.parallel < 0 {
		return nil, fmt.Errorf("--parallel must not be negative, got %d", dOpts.parallel)
	}
	if len(hosts) == 0 && envPresent("CMSDEPLOY_HOSTS") {
		for _, h := range envCfg.Hosts {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	return hosts, nil
}

// hostOutcome is the result of one host's invocation.
type hostOutcome struct {
	host    string
	release string
	err     error
}

func runTaskOnHosts(cmd *cobra.Command, opts *Options, dOpts *deployOptions, task string, hostNames []string, writeOutputs bool) error {
	ctx := cmd.Context()
	logger := LoggerFromContext(ctx)

	hostNames, err := applyDeployEnv(cmd, dOpts, hostNames)
	if err != nil {
		return err
	}

	project, err := loadProject(opts, cmd, logger)
	if err != nil {
		return err
	}
	if _, err := project.Graph.Task(task); err != nil {
		return err
	}
	hosts, err := project.SelectHosts(hostNames)
	if err != nil {
		return err
	}

	store, err := openHistory(opts, project, logger)
	if err != nil {
		return err
	}
	var observers []scheduler.Observer
	if store != nil {
		defer func() {
			if cerr := store.Close(); cerr != nil {
				logger.Warn("failed to close history", "error", cerr)
			}
		}()
		observers = append(observers, store.Observer())
	}

	sched := scheduler.New(project.Graph, project.Hooks, observers...)
	runner := remote.Mux{
		Local:  &remote.LocalRunner{Logger: logger},
		Remote: &remote.SSHRunner{Logger: logger},
	}

	outcomes := runHosts(ctx, hosts, dOpts.parallel, func(ctx context.Context, h remote.Host) hostOutcome {
		return invokeHost(ctx, sched, project, runner, store, h, task, logger)
	})

	var (
		failed  []string
		release string
	)
	for _, o := range outcomes {
		if o.release != "" && release == "" {
			release = o.release
		}
		if o.err != nil {
			failed = append(failed, o.host)
			logDeployFailure(logger, o.host, task, o.err)
		}
	}

	if writeOutputs {
		if err := ghoutput.WriteDeploy(ghoutput.DeployResult{Release: release, FailedHosts: failed}); err != nil {
			logger.Warn("failed to write GitHub outputs", "error", err)
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("%s failed on %d of %d host(s): %s", task, len(failed), len(hosts), strings.Join(failed, ", "))
	}
	logger.Info("task completed", "task", task, "hosts", len(hosts), "release", release)
	return nil
}

// runHosts invokes fn for every host, at most limit at a time (0 = unlimited).
// One host failing never cancels the others.
func runHosts(ctx context.Context, hosts []remote.Host, limit int, fn func(context.Context, remote.Host) hostOutcome) []hostOutcome {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		outcomes = make([]hostOutcome, len(hosts))
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			o := fn(ctx, h)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func invokeHost(
	ctx context.Context,
	sched *scheduler.Scheduler,
	project *config.Project,
	runner remote.Runner,
	store *history.Store,
	h remote.Host,
	task string,
	logger *slog.Logger,
) hostOutcome {
	vars := project.HostStore(h)
	exec := execctx.New(runner, vars, h, logger)
	exec.DefaultTimeout = project.CommandTimeout

	runID := ""
	if store != nil {
		id, err := store.Start(ctx, h.Name, task)
		if err != nil {
			logger.Warn("failed to record run start", "host", h.Name, "error", err)
		} else {
			runID = id
		}
	}
	recorded := runID != ""
	if !recorded {
		runID = uuid.NewString()
	}

	logger.Info("invocation started", "host", h.Name, "task", task, "run", runID)
	inv := scheduler.NewInvocation(runID, h.Name, vars, exec, logger)
	err := sched.Invoke(ctx, inv, task)

	release := ""
	if vars.Has("release_name") {
		if name, rerr := vars.String("release_name"); rerr == nil {
			release = name
		}
	}
	for _, hf := range inv.HookFailures {
		logger.Warn("failure hook did not complete", "host", h.Name, "event", hf.Event, "hook", hf.Task, "error", hf.Err)
	}

	if recorded {
		if ferr := store.Finish(context.WithoutCancel(ctx), runID, release, err); ferr != nil {
			logger.Warn("failed to record run result", "host", h.Name, "error", ferr)
		}
	}
	return hostOutcome{host: h.Name, release: release, err: err}
}

// logDeployFailure reports the failing task and, for commands that ran, the
// command and its exit code.
func logDeployFailure(logger *slog.Logger, host, root string, err error) {
	failedTask := root
	var te *scheduler.TaskError
	if errors.As(err, &te) {
		failedTask = te.Task
	}
	command, exitCode := "", 0
	if cf, ok := execctx.AsCommandFailed(err); ok {
		command, exitCode = cf.Command, cf.ExitCode()
	}
	logger.Error("deploy failed", "host", host, "task", failedTask, "command", command, "exit_code", exitCode, "error", err)
}

// openHistory opens the history database unless disabled. The path is taken
// from --history, then deploy.yaml, then the per-user default.
func openHistory(opts *Options, project *config.Project, logger *slog.Logger) (*history.Store, error) {
	if opts.NoHistory {
		return nil, nil
	}
	path, err := historyPath(opts, project.Config.History)
	if err != nil {
		return nil, err
	}
	logger.Debug("opening history", "path", path)
	return history.Open(path, logger)
}

func historyPath(opts *Options, configured string) (string, error) {
	path := strings.TrimSpace(opts.HistoryPath)
	if path == "" {
		path = configured
	}
	if path == "" {
		path = defaultHistoryPath
	}
	return env.Expand("", path)
}
