package cli

import (
	"os"
	"strings"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/unleashedtech/cmsdeploy/internal/logging"
)

// baseEnv defines root CLI defaults sourced from CMSDEPLOY_* env vars.
type baseEnv struct {
	// ConfigPath is the deploy.yaml path from CMSDEPLOY_CONFIG.
	ConfigPath string `env:"CMSDEPLOY_CONFIG"`
	// LogLevel is the logging level from CMSDEPLOY_LOG_LEVEL.
	LogLevel string `env:"CMSDEPLOY_LOG_LEVEL"`
	// HistoryPath is the history database from CMSDEPLOY_HISTORY.
	HistoryPath string `env:"CMSDEPLOY_HISTORY"`
	// NoHistory disables history from CMSDEPLOY_NO_HISTORY.
	NoHistory bool `env:"CMSDEPLOY_NO_HISTORY"`
}

// varsEnv describes inline vars and var files passed via env.
type varsEnv struct {
	// Vars is a k=v,k2=v2 list from CMSDEPLOY_VARS.
	Vars string `env:"CMSDEPLOY_VARS"`
	// VarFile is a YAML/ENV path from CMSDEPLOY_VAR_FILE.
	VarFile string `env:"CMSDEPLOY_VAR_FILE"`
}

// deployEnv captures CMSDEPLOY_* inputs for deploy and run.
type deployEnv struct {
	// Parallel caps concurrent hosts from CMSDEPLOY_PARALLEL.
	Parallel int `env:"CMSDEPLOY_PARALLEL"`
	// Hosts is a comma-separated host list from CMSDEPLOY_HOSTS.
	Hosts []string `env:"CMSDEPLOY_HOSTS" envSeparator:","`
}

// parseEnv fills target from CMSDEPLOY_* env vars via caarlos0/env.
func parseEnv(target any) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// applyBaseEnv copies CMSDEPLOY_* values into flags the user did not set.
func applyBaseEnv(cmd *cobra.Command, opts *Options) error {
	var base baseEnv
	if err := parseEnv(&base); err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("config") && envPresent("CMSDEPLOY_CONFIG") {
		opts.ConfigPath = base.ConfigPath
	}
	if !flags.Changed("log-level") && envPresent("CMSDEPLOY_LOG_LEVEL") {
		if err := flags.Set("log-level", logging.ParseLevel(base.LogLevel).String()); err != nil {
			return err
		}
	}
	if !flags.Changed("history") && envPresent("CMSDEPLOY_HISTORY") {
		opts.HistoryPath = base.HistoryPath
	}
	if !flags.Changed("no-history") && envPresent("CMSDEPLOY_NO_HISTORY") {
		opts.NoHistory = base.NoHistory
	}
	return nil
}
