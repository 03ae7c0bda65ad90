package recipe

import (
	"context"
	"strconv"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/hooks"
	"github.com/unleashedtech/cmsdeploy/internal/layout"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// magentoPathVars are prefixed with app_directory_name by magento:init.
var magentoPathVars = []string{"shared_dirs", "shared_files", "writable_dirs", "clear_paths"}

func magentoDefaults(s *vars.Store) {
	s.Set("app_type", "magento")
	s.Set("mage", "bin/magento")
	s.Fill("shared_dirs", []string{
		"var",
		"pub/media",
		"pub/page-cache",
		"pub/sitemap",
		"pub/static",
		"generated",
	})
	s.Fill("shared_files", []string{"app/etc/env.php"})
	s.Fill("writable_dirs", []string{})
	s.Fill("clear_paths", []string{
		"generated/*",
		"pub/static/_cache/*",
		"var/generation/*",
		"var/cache/*",
		"var/page_cache/*",
		"var/view_preprocessed/*",
	})
	s.Fill("app_directory_name", "docroot")
	s.Set("static_content_locales", "en_US")
	s.Set("http_user", "www-data")
	s.Fill("writable_recursive", true)

	// app:config:status exits 2 when the stored configuration differs from
	// config.php; setup:db:status exits 2 when a schema upgrade is pending.
	s.Fill("magento_config_status_codes", map[string]any{"2": "import"})
	s.Fill("magento_db_status_codes", map[string]any{"2": "upgrade"})

	commonDefaults(s)
}

func registerMagento(b *graph.Builder, d *hooks.Dispatcher) {
	registerCommon(b)

	b.Task("magento:init", magentoInit).Desc("Prefixes path settings with app_directory_name")
	b.Task("magento:maintenance:enable", mageGuarded("maintenance:enable")).Desc("Enables maintenance mode")
	b.Task("magento:maintenance:disable", mageGuarded("maintenance:disable")).Desc("Disables maintenance mode")
	b.Task("magento:indexer:reindex", mage("{{mage}} indexer:reindex")).Desc("Reindexes all indexers")
	b.Task("magento:cache:flush", mage("{{mage}} cache:clean", "{{mage}} cache:flush")).Desc("Flushes Magento Cache")
	b.Task("magento:deploy:vendor", mage("composer install --no-scripts --no-progress --no-interaction --prefer-dist --optimize-autoloader --ansi")).
		Desc("Composer install inside docroot (behind auth wall)")
	b.Task("magento:compile", magentoCompile).Desc("Compile Magento Code")
	b.Task("magento:config:import", magentoConfigImport).Desc("Database Configuration Import")
	b.Task("magento:cron", mage("crontab -r || true", "{{mage}} cron:install -f")).Desc("Force Install a new cron")
	b.Task("magento:db:backup:create", magentoBackup).Desc("Database Backup")
	b.Task("magento:setup:upgrade", mage(
		"rm -f app/etc/env.php",
		"cp {{shared_path}}/{{app_directory_name}}/app/etc/env.php app/etc/env.php",
		"{{mage}} module:disable Magento_TwoFactorAuth",
		"{{mage}} setup:upgrade --keep-generated --no-interaction",
	)).Desc("Upgrades Magento modules and schema")
	b.Task("magento:setup:static", magentoStatic).Desc("Deploy Static Assets")
	b.Task("magento:prod:mode", mage("{{mage}} deploy:mode:set production")).Desc("Turn On Production Mode")

	b.Group("deploy:magento2",
		"magento:deploy:vendor",
		"magento:db:backup:create",
		"magento:maintenance:enable",
		"magento:prod:mode",
		"magento:config:import",
		"magento:setup:upgrade",
		"magento:cache:flush",
		"magento:indexer:reindex",
		"magento:cron",
		"magento:maintenance:disable",
	).Desc("Magento2 Deployment Tasks")

	b.Group("deploy",
		"magento:init",
		"deploy:prepare",
		"deploy:vendors",
		"deploy:clear_paths",
		"deploy:magento2",
		"deploy:publish",
	).Desc("Deploys a Magento 2 project")

	d.On(hooks.FailedEvent("deploy"), "magento:maintenance:disable")
	d.On(hooks.FailedEvent("deploy"), "deploy:unlock")
}

// magentoInit rewrites the path lists relative to the application directory and
// clears any lock left behind by an aborted deploy.
func magentoInit(ctx context.Context, rt *graph.Runtime) error {
	appDir, err := rt.Vars.String("app_directory_name")
	if err != nil {
		return err
	}
	for _, name := range magentoPathVars {
		paths, err := rt.Vars.Strings(name)
		if err != nil {
			return err
		}
		rt.Vars.Set(name, layout.PrefixAll(appDir, paths))
	}
	return unlock(ctx, rt)
}

// mage returns an action running commands in order inside the app directory.
func mage(commands ...string) graph.Action {
	return func(ctx context.Context, rt *graph.Runtime) error {
		return inApp(rt, func() error {
			for _, cmd := range commands {
				if _, err := rt.Exec.Run(ctx, cmd); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// mageGuarded is mage for a single bin/magento subcommand that is skipped when
// nothing is live yet.
func mageGuarded(subcommand string) graph.Action {
	run := mage("{{mage}} " + subcommand)
	return func(ctx context.Context, rt *graph.Runtime) error {
		ok, err := currentExists(ctx, rt)
		if err != nil || !ok {
			return err
		}
		return run(ctx, rt)
	}
}

func magentoCompile(ctx context.Context, rt *graph.Runtime) error {
	return inApp(rt, func() error {
		if _, err := rt.Exec.Run(ctx, "composer dump-autoload -o"); err != nil {
			return err
		}
		if _, err := rt.Exec.Run(ctx, "{{mage}} setup:di:compile", execctx.NoTimeout()); err != nil {
			return err
		}
		_, err := rt.Exec.Run(ctx, "composer dump-autoload -o --apcu")
		return err
	})
}

func magentoConfigImport(ctx context.Context, rt *graph.Runtime) error {
	ok, err := currentExists(ctx, rt)
	if err != nil || !ok {
		return err
	}
	signals, err := execctx.SignalsFrom(rt.Vars, "magento_config_status_codes")
	if err != nil {
		return err
	}
	return inApp(rt, func() error {
		signal, err := rt.Exec.Branch(ctx, "{{mage}} app:config:status", signals)
		if err != nil {
			return err
		}
		if signal != "import" {
			return nil
		}
		_, err = rt.Exec.Run(ctx, "{{mage}} app:config:import --no-interaction")
		return err
	})
}

func magentoBackup(ctx context.Context, rt *graph.Runtime) error {
	ok, err := currentExists(ctx, rt)
	if err != nil || !ok {
		return err
	}
	signals, err := execctx.SignalsFrom(rt.Vars, "magento_db_status_codes")
	if err != nil {
		return err
	}

	return rt.Exec.Within("{{app_path}}", func() error {
		status, err := rt.Exec.Probe(ctx, "{{mage}} setup:db:status")
		if err != nil {
			return err
		}
		if !status.Succeeded() {
			if signals[status.ExitCode] == "upgrade" {
				rt.Logger.Info("database upgrade pending, skipping backup")
				return nil
			}
			rt.Logger.Warn("setup:db:status failed, attempting backup anyway", "exit_code", status.ExitCode)
		}

		enable, err := rt.Exec.Probe(ctx, "{{mage}} config:set system/backup/functionality_enabled 1")
		if err != nil {
			return err
		}
		if !enable.Succeeded() {
			rt.Logger.Warn("could not enable backups, skipping", "exit_code", enable.ExitCode)
			return nil
		}

		if _, err := rt.Exec.Run(ctx, "{{mage}} setup:backup --db", execctx.NoTimeout()); err != nil {
			return err
		}
		_, err = rt.Exec.Run(ctx, "{{mage}} info:backups:list")
		return err
	})
}

func magentoStatic(ctx context.Context, rt *graph.Runtime) error {
	version := strconv.FormatInt(now().Unix(), 10)
	return mage(
		"rm -f app/etc/env.php",
		"cp {{shared_path}}/{{app_directory_name}}/app/etc/env.php app/etc/env.php",
		"{{mage}} setup:static-content:deploy -f --content-version="+version+" {{static_content_locales}}",
	)(ctx, rt)
}
