package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/remote"
)

// newDoctorCommand creates the "doctor" subcommand that runs environment preflight checks.
func newDoctorCommand(opts *Options) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "doctor [hosts...]",
		Short: "Run environment preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if err := runDoctorChecks(ctx, logger); err != nil {
				return err
			}

			if connect {
				project, err := loadProject(opts, cmd, logger)
				if err != nil {
					return err
				}
				hosts, err := project.SelectHosts(args)
				if err != nil {
					return err
				}
				runner := remote.Mux{
					Local:  &remote.LocalRunner{Logger: logger},
					Remote: &remote.SSHRunner{Logger: logger},
				}
				if err := runConnectChecks(ctx, logger, runner, hosts); err != nil {
					return err
				}
			}

			logger.Info("doctor checks completed successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&connect, "connect", false, "Also check that every selected host accepts a command")
	addVarsFlags(cmd)

	return cmd
}
