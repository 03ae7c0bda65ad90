package recipe

import (
	"context"

	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/hooks"
	"github.com/unleashedtech/cmsdeploy/internal/layout"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

func drupalDefaults(s *vars.Store) {
	s.Set("app_type", "drupal")
	s.Fill("app_directory_name", "docroot")
	s.Fill("sites", []string{"default"})
	s.Fill("shared_dir_names", []string{"files"})
	s.Fill("drush", "{{release_or_current_path}}/vendor/bin/drush")
	s.Fill("skip_db_ops", false)
	s.Fill("skip_db_update", false)
	s.Fill("skip_config_import", false)

	commonDefaults(s)
}

func registerDrupal(b *graph.Builder, d *hooks.Dispatcher) {
	registerCommon(b)

	b.Task("cms:drupal:init:shared:dirs", drupalSharedDirs).Desc("Derives shared_dirs from sites and shared_dir_names")
	b.Task("cms:drupal:db:update", drupalDBUpdate).Desc("Updates the Drupal DB based on Drupal install files.")
	b.Task("cms:drupal:config:import", perSite("{{drush}} config:import -y", "skip_db_ops", "skip_config_import")).
		Desc("Imports Drupal configuration")
	b.Task("cms:drupal:cache:rebuild", perSite("{{drush}} cache:rebuild")).Desc("Rebuilds Drupal caches")
	b.Task("cms:drupal:maintenance:enable", drupalMaintenance("1")).Desc("Enables maintenance mode")
	b.Task("cms:drupal:maintenance:disable", drupalMaintenance("0")).Desc("Disables maintenance mode")

	b.Group("deploy:drupal",
		"cms:drupal:maintenance:enable",
		"cms:drupal:db:update",
		"cms:drupal:config:import",
		"cms:drupal:cache:rebuild",
		"cms:drupal:maintenance:disable",
	).Desc("Drupal Deployment Tasks")

	b.Group("deploy",
		"cms:drupal:init:shared:dirs",
		"deploy:prepare",
		"deploy:vendors",
		"deploy:clear_paths",
		"deploy:drupal",
		"deploy:publish",
	).Desc("Deploys a Drupal project")

	d.On(hooks.FailedEvent("deploy"), "cms:drupal:maintenance:disable")
	d.On(hooks.FailedEvent("deploy"), "deploy:unlock")
}

func drupalSharedDirs(_ context.Context, rt *graph.Runtime) error {
	appDir, err := rt.Vars.String("app_directory_name")
	if err != nil {
		return err
	}
	sites, err := rt.Vars.Strings("sites")
	if err != nil {
		return err
	}
	names, err := rt.Vars.Strings("shared_dir_names")
	if err != nil {
		return err
	}
	rt.Vars.Set("shared_dirs", layout.SiteDirs(appDir, sites, names))
	return nil
}

func drupalDBUpdate(ctx context.Context, rt *graph.Runtime) error {
	return perSite("{{drush}} updb -y", "skip_db_ops", "skip_db_update")(ctx, rt)
}

// perSite runs command inside app_path/sites/<site> for every site, unless one
// of the skip flags is set.
func perSite(command string, skipFlags ...string) graph.Action {
	return func(ctx context.Context, rt *graph.Runtime) error {
		for _, flag := range skipFlags {
			skip, err := rt.Vars.Bool(flag)
			if err != nil {
				return err
			}
			if skip {
				rt.Logger.Info("skipped", "flag", flag)
				return nil
			}
		}
		sites, err := rt.Vars.Strings("sites")
		if err != nil {
			return err
		}
		for _, site := range sites {
			err := rt.Exec.Within("{{app_path}}/sites/"+site, func() error {
				_, err := rt.Exec.Run(ctx, command)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func drupalMaintenance(value string) graph.Action {
	set := perSite("{{drush}} state:set system.maintenance_mode " + value + " --input-format=integer")
	return func(ctx context.Context, rt *graph.Runtime) error {
		ok, err := currentExists(ctx, rt)
		if err != nil || !ok {
			return err
		}
		return set(ctx, rt)
	}
}
