package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/config"
	"github.com/unleashedtech/cmsdeploy/internal/env"
)

// parseInlineVarsAndFiles reads --vars, --var-file and --set, falling back to
// CMSDEPLOY_VARS and CMSDEPLOY_VAR_FILE when the flags were not given.
func parseInlineVarsAndFiles(cmd *cobra.Command) (config.LoadOptions, error) {
	var fromEnv varsEnv
	if err := parseEnv(&fromEnv); err != nil {
		return config.LoadOptions{}, err
	}

	rawVars := flagString(cmd, "vars")
	if !cmd.Flags().Changed("vars") && envPresent("CMSDEPLOY_VARS") {
		rawVars = fromEnv.Vars
	}
	inlineVars, err := env.ParseInlineVars(rawVars)
	if err != nil {
		return config.LoadOptions{}, err
	}

	varFile := flagString(cmd, "var-file")
	if !cmd.Flags().Changed("var-file") && envPresent("CMSDEPLOY_VAR_FILE") {
		varFile = fromEnv.VarFile
	}
	var varFiles []string
	if varFile != "" {
		varFiles = append(varFiles, varFile)
	}

	var sets env.Vars
	if cmd.Flags().Lookup("set") != nil {
		assignments, err := cmd.Flags().GetStringArray("set")
		if err != nil {
			return config.LoadOptions{}, err
		}
		for _, a := range assignments {
			k, v, err := env.ParseAssignment(a)
			if err != nil {
				return config.LoadOptions{}, err
			}
			if sets == nil {
				sets = make(env.Vars)
			}
			sets[k] = v
		}
	}

	return config.LoadOptions{VarFiles: varFiles, InlineVars: inlineVars, Sets: sets}, nil
}

// loadProject loads deploy.yaml with the command's variable flags and builds
// the task graph.
func loadProject(opts *Options, cmd *cobra.Command, logger *slog.Logger) (*config.Project, error) {
	loadOpts, err := parseInlineVarsAndFiles(cmd)
	if err != nil {
		return nil, err
	}
	loaded, err := config.Load(opts.ConfigPath, loadOpts)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", "path", loaded.Path, "recipe", loaded.Config.Recipe, "hosts", len(loaded.Config.Hosts))
	return loaded.Build(logger)
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f.Value.String())
}

func addVarsFlags(cmd *cobra.Command) {
	cmd.Flags().String("vars", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().String("var-file", "", "Path to YAML/ENV file with additional variables")
	cmd.Flags().StringArray("set", nil, "Override a variable (k=v); may be repeated")
}
