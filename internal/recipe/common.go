package recipe

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/layout"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// ErrLocked is returned by deploy:lock when another deploy holds the lock.
var ErrLocked = errors.New("deploy is locked")

func commonDefaults(s *vars.Store) {
	s.Fill("current_path", "{{deploy_path}}/current")
	s.Fill("releases_path", "{{deploy_path}}/releases")
	s.Fill("shared_path", "{{deploy_path}}/shared")
	s.Fill("dep_path", "{{deploy_path}}/.dep")
	s.Fill("lock_file", "{{dep_path}}/deploy.lock")
	s.Fill("release_or_current_path", vars.Func(func(s *vars.Store) (any, error) {
		if s.Has("release_path") {
			return "{{release_path}}", nil
		}
		return "{{current_path}}", nil
	}))
	s.Fill("app_directory_name", ".")
	s.Fill("app_path", "{{release_or_current_path}}/{{app_directory_name}}")

	s.Fill("repository", "")
	s.Fill("branch", "")
	s.Fill("bin/git", "git")
	s.Fill("bin/composer", "composer")
	s.Fill("composer_action", "install")
	s.Fill("composer_options", "--verbose --prefer-dist --no-progress --no-interaction --no-dev --optimize-autoloader")

	s.Fill("shared_dirs", []string{})
	s.Fill("shared_files", []string{})
	s.Fill("writable_dirs", []string{})
	s.Fill("writable_mode", "chmod")
	s.Fill("writable_chmod_mode", "0775")
	s.Fill("writable_recursive", true)
	s.Fill("http_user", "www-data")
	s.Fill("clear_paths", []string{})
}

func registerCommon(b *graph.Builder) {
	b.Task("deploy:info", deployInfo).Desc("Displays info about deployment")
	b.Task("deploy:setup", deploySetup).Desc("Prepares host for deploy")
	b.Task("deploy:lock", deployLock).Desc("Locks deploy")
	b.Task("deploy:unlock", unlock).Desc("Unlocks deploy")
	b.Task("deploy:release", deployRelease).Desc("Prepares release")
	b.Task("deploy:update_code", updateCode).Desc("Updates code")
	b.Task("deploy:shared", deployShared).Desc("Creates symlinks for shared files and dirs")
	b.Task("deploy:writable", deployWritable).Desc("Makes writable dirs")
	b.Task("deploy:vendors", deployVendors).Desc("Installs vendors")
	b.Task("deploy:clear_paths", clearPaths).Desc("Cleans up files and/or directories")
	b.Task("deploy:symlink", deploySymlink).Desc("Creates symlink to release")
	b.Task("deploy:success", deploySuccess).Hidden()

	b.Group("deploy:prepare",
		"deploy:info",
		"deploy:setup",
		"deploy:lock",
		"deploy:release",
		"deploy:update_code",
		"deploy:shared",
		"deploy:writable",
	).Desc("Prepares a new release")
	b.Group("deploy:publish",
		"deploy:symlink",
		"deploy:unlock",
		"deploy:success",
	).Desc("Publishes the release")
}

func deployInfo(_ context.Context, rt *graph.Runtime) error {
	repo, err := rt.Vars.String("repository")
	if err != nil {
		return err
	}
	branch, err := rt.Vars.String("branch")
	if err != nil {
		return err
	}
	rt.Logger.Info("deploying", "host", rt.Exec.Host().String(), "repository", repo, "branch", branch)
	return nil
}

func deploySetup(ctx context.Context, rt *graph.Runtime) error {
	if _, err := rt.Exec.Run(ctx, "[ -d {{deploy_path}} ] || mkdir -p {{deploy_path}}"); err != nil {
		return err
	}
	return rt.Exec.Within("{{deploy_path}}", func() error {
		if _, err := rt.Exec.Run(ctx, "mkdir -p .dep releases shared"); err != nil {
			return err
		}
		// current must be a symlink managed by deploy:symlink.
		_, err := rt.Exec.Run(ctx, `if [ -d current ] && [ ! -L current ]; then echo "{{current_path}} is a directory, not a symlink" >&2; exit 1; fi`)
		return err
	})
}

func deployLock(ctx context.Context, rt *graph.Runtime) error {
	locked, err := rt.Exec.Test(ctx, "[ -f {{lock_file}} ]")
	if err != nil {
		return err
	}
	if locked {
		lockFile, _ := rt.Vars.String("lock_file")
		return fmt.Errorf("%w: remove %s or run deploy:unlock", ErrLocked, lockFile)
	}
	_, err = rt.Exec.Run(ctx, "touch {{lock_file}}")
	return err
}

func unlock(ctx context.Context, rt *graph.Runtime) error {
	_, err := rt.Exec.Run(ctx, "rm -f {{lock_file}}")
	return err
}

func deployRelease(ctx context.Context, rt *graph.Runtime) error {
	name := layout.ReleaseName(now())
	rt.Vars.Set("release_name", name)
	rt.Vars.Set("release_path", "{{releases_path}}/{{release_name}}")

	exists, err := rt.Exec.Test(ctx, "[ -d {{release_path}} ]")
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("release %s already exists", name)
	}
	if _, err := rt.Exec.Run(ctx, "mkdir -p {{release_path}}"); err != nil {
		return err
	}
	_, err = rt.Exec.Run(ctx, "echo {{release_name}} > {{dep_path}}/latest_release")
	return err
}

func updateCode(ctx context.Context, rt *graph.Runtime) error {
	repo, err := rt.Vars.String("repository")
	if err != nil {
		return err
	}
	if strings.TrimSpace(repo) == "" {
		rt.Logger.Info("no repository configured, keeping release contents")
		return nil
	}
	branch, err := rt.Vars.String("branch")
	if err != nil {
		return err
	}

	cmd := "{{bin/git}} clone --depth 1 --recursive"
	if branch != "" {
		cmd += " --branch " + remote.Quote(branch)
	}
	cmd += " " + remote.Quote(repo) + " {{release_path}}"
	_, err = rt.Exec.Run(ctx, cmd, execctx.NoTimeout())
	return err
}

func deployShared(ctx context.Context, rt *graph.Runtime) error {
	dirs, err := rt.Vars.Strings("shared_dirs")
	if err != nil {
		return err
	}
	files, err := rt.Vars.Strings("shared_files")
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		shared, err := sharedPath(rt, "{{shared_path}}", dir)
		if err != nil {
			return err
		}
		release, err := sharedPath(rt, "{{release_path}}", dir)
		if err != nil {
			return err
		}
		// Seed the shared dir from the release on first deploy.
		if _, err := rt.Exec.Run(ctx, fmt.Sprintf("if [ ! -d %[1]s ] && [ -d %[2]s ]; then mkdir -p %[1]s && cp -r %[2]s/. %[1]s; fi", remote.Quote(shared), remote.Quote(release))); err != nil {
			return err
		}
		cmd := fmt.Sprintf("mkdir -p %s && rm -rf %s && mkdir -p %s && ln -nfs %s %s",
			remote.Quote(shared), remote.Quote(release), remote.Quote(path.Dir(release)), remote.Quote(shared), remote.Quote(release))
		if _, err := rt.Exec.Run(ctx, cmd); err != nil {
			return err
		}
	}

	for _, file := range files {
		shared, err := sharedPath(rt, "{{shared_path}}", file)
		if err != nil {
			return err
		}
		release, err := sharedPath(rt, "{{release_path}}", file)
		if err != nil {
			return err
		}
		seed := fmt.Sprintf("mkdir -p %s && if [ ! -f %s ] && [ -f %s ]; then cp %s %s; fi",
			remote.Quote(path.Dir(shared)), remote.Quote(shared), remote.Quote(release), remote.Quote(release), remote.Quote(shared))
		if _, err := rt.Exec.Run(ctx, seed); err != nil {
			return err
		}
		link := fmt.Sprintf("touch %s && rm -f %s && mkdir -p %s && ln -nfs %s %s",
			remote.Quote(shared), remote.Quote(release), remote.Quote(path.Dir(release)), remote.Quote(shared), remote.Quote(release))
		if _, err := rt.Exec.Run(ctx, link); err != nil {
			return err
		}
	}
	return nil
}

// sharedPath resolves base/rel so the result can be shell-quoted.
func sharedPath(rt *graph.Runtime, base, rel string) (string, error) {
	return rt.Vars.Resolve(layout.Join(base, rel))
}

func deployWritable(ctx context.Context, rt *graph.Runtime) error {
	dirs, err := rt.Vars.Strings("writable_dirs")
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return nil
	}
	mode, err := rt.Vars.String("writable_mode")
	if err != nil {
		return err
	}
	recursive, err := rt.Vars.Bool("writable_recursive")
	if err != nil {
		return err
	}

	quoted := make([]string, 0, len(dirs))
	for _, d := range dirs {
		quoted = append(quoted, remote.Quote(d))
	}
	list := strings.Join(quoted, " ")
	flag := ""
	if recursive {
		flag = "-R "
	}

	return rt.Exec.Within("{{release_path}}", func() error {
		if _, err := rt.Exec.Run(ctx, "mkdir -p "+list); err != nil {
			return err
		}
		switch mode {
		case "chmod":
			_, err = rt.Exec.Run(ctx, "chmod "+flag+"{{writable_chmod_mode}} "+list)
		case "chown":
			_, err = rt.Exec.Run(ctx, "chown "+flag+"{{http_user}} "+list)
		default:
			err = fmt.Errorf("unsupported writable_mode %q", mode)
		}
		return err
	})
}

func deployVendors(ctx context.Context, rt *graph.Runtime) error {
	return rt.Exec.Within("{{release_or_current_path}}", func() error {
		_, err := rt.Exec.Run(ctx, "{{bin/composer}} {{composer_action}} {{composer_options}} 2>&1", execctx.NoTimeout())
		return err
	})
}

func clearPaths(ctx context.Context, rt *graph.Runtime) error {
	paths, err := rt.Vars.Strings("clear_paths")
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	// Paths stay unquoted so globs such as var/cache/* expand.
	return rt.Exec.Within("{{release_path}}", func() error {
		_, err := rt.Exec.Run(ctx, "rm -rf "+strings.Join(paths, " "))
		return err
	})
}

func deploySymlink(ctx context.Context, rt *graph.Runtime) error {
	if _, err := rt.Exec.Run(ctx, "ln -sfn {{release_path}} {{current_path}}.tmp"); err != nil {
		return err
	}
	_, err := rt.Exec.Run(ctx, "mv -fT {{current_path}}.tmp {{current_path}}")
	return err
}

func deploySuccess(_ context.Context, rt *graph.Runtime) error {
	release, err := rt.Vars.String("release_name")
	if err != nil {
		return err
	}
	rt.Logger.Info("successfully deployed", "host", rt.Exec.Host().String(), "release", release)
	return nil
}

// inApp runs fn inside the application directory of the active release.
func inApp(rt *graph.Runtime, fn func() error) error {
	return rt.Exec.Within("{{release_or_current_path}}/{{app_directory_name}}", fn)
}

// currentExists guards tasks that only make sense once a release is live.
func currentExists(ctx context.Context, rt *graph.Runtime) (bool, error) {
	ok, err := rt.Exec.Test(ctx, "[ -d {{current_path}} ]")
	if err == nil && !ok {
		rt.Logger.Info("no current release, skipping")
	}
	return ok, err
}
