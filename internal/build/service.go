// Package build runs the build, clean and test workflows of the app and its
// libraries on top of a prepared execution environment.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/builders"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
)

type Service struct {
	Logger              *slog.Logger
	EnvironmentPreparer EnvironmentPreparer
	// Runner executes prebuild and postbuild hooks on the host.
	Runner   shell.Runner
	HostArch arch.Architecture
	Verbose  bool
}

// Run builds the app described by cfg.
func (s *Service) Run(ctx context.Context, cfg *project.Config, request *Request) (*Result, error) {
	if s.EnvironmentPreparer == nil {
		return nil, errors.New("environment preparer is not configured")
	}
	if cfg.IsLibrary() {
		return nil, fmt.Errorf("%s is a library, use BuildLibraries", cfg.Name)
	}
	if request == nil {
		request = &Request{}
	}
	logger := s.logger().With("unit", "app", "builder", cfg.Builder, "arch", cfg.Arch)

	if request.Clean {
		if err := s.clean(cfg.BuildDir); err != nil {
			return nil, err
		}
	}

	env, err := s.prepare(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	cfg = withDebug(env, request.Debug)
	if err := s.hooks(ctx, cfg, cfg.Prebuild, cfg.RootDir); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(cfg.InstallDir); err != nil {
		return nil, fmt.Errorf("remove install directory: %w", err)
	}
	if err := os.MkdirAll(cfg.InstallDir, 0o755); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}
	if err := s.compile(ctx, cfg, env, request.Debug); err != nil {
		return nil, err
	}
	logger.Info("build completed", "install_dir", cfg.InstallDir)

	installed, err := s.installAdditionalFiles(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	if err := s.hooks(ctx, cfg, cfg.Postbuild, cfg.BuildDir); err != nil {
		return nil, err
	}

	if request.Output != "" {
		ignoreNothing := func(string, string) bool { return false }
		if err := builders.CopyTree(cfg.InstallDir, request.Output, ignoreNothing); err != nil {
			return nil, fmt.Errorf("copy install directory to %s: %w", request.Output, err)
		}
		logger.Info("copied install directory", "output", request.Output)
	}

	return &Result{Unit: "app", InstallDir: cfg.InstallDir, Installed: installed}, nil
}

// BuildLibraries builds the libraries selected by request, in name order.
func (s *Service) BuildLibraries(ctx context.Context, cfg *project.Config, request *Request) ([]Result, error) {
	if s.EnvironmentPreparer == nil {
		return nil, errors.New("environment preparer is not configured")
	}
	if request == nil {
		request = &Request{}
	}
	libs, err := selectLibraries(cfg, request.Libraries, "build")
	if err != nil {
		return nil, err
	}
	if len(cfg.Libraries) == 0 {
		s.logger().Warn("no libraries defined")
		return nil, nil
	}

	var results []Result
	for _, lib := range libs {
		logger := s.logger().With("unit", lib.Name, "builder", lib.Builder, "arch", lib.Arch)
		logger.Info("building library")

		if request.Clean {
			if err := s.clean(lib.BuildDir); err != nil {
				return nil, err
			}
		}
		env, err := s.prepare(ctx, lib, logger)
		if err != nil {
			return nil, err
		}
		lib = withDebug(env, request.Debug)
		if err := s.hooks(ctx, lib, lib.Prebuild, cfg.RootDir); err != nil {
			return nil, err
		}
		if err := s.compile(ctx, lib, env, request.Debug); err != nil {
			return nil, err
		}
		if err := s.hooks(ctx, lib, lib.Postbuild, lib.BuildDir); err != nil {
			return nil, err
		}
		results = append(results, Result{Unit: lib.Name, InstallDir: lib.InstallDir})
	}
	return results, nil
}

// Clean removes the build directory of the app and/or of libraries.
func (s *Service) Clean(cfg *project.Config, app bool, libraries []string) error {
	if libraries != nil {
		if len(cfg.Libraries) == 0 {
			s.logger().Warn("no libraries defined")
		}
		libs, err := selectLibraries(cfg, libraries, "clean")
		if err != nil {
			return err
		}
		for _, lib := range libs {
			s.logger().Info("cleaning library build directory", "library", lib.Name)
			if err := s.clean(lib.BuildDir); err != nil {
				return err
			}
		}
	}
	if app {
		s.logger().Info("cleaning app build directory")
		return s.clean(cfg.BuildDir)
	}
	return nil
}

// Test runs the configured test command on a virtual screen.
func (s *Service) Test(ctx context.Context, cfg *project.Config) error {
	if s.EnvironmentPreparer == nil {
		return errors.New("environment preparer is not configured")
	}
	logger := s.logger().With("unit", "app")
	env, err := s.prepare(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return env.Run(ctx, "xvfb-startup "+cfg.Test, container.RunOptions{})
}

// Script runs the project script name on the host, from the root directory.
func (s *Service) Script(ctx context.Context, cfg *project.Config, name string) error {
	script, ok := cfg.Scripts[name]
	if !ok || script == "" {
		err := clickerr.ConfigKey("scripts", "%q is not a script defined in the project config", name)
		if len(cfg.Scripts) > 0 {
			err = err.WithHint("available scripts: " + strings.Join(slices.Sorted(maps.Keys(cfg.Scripts)), ", "))
		}
		return err
	}
	s.logger().Info("running script", "script", name)
	return s.hooks(ctx, cfg, []string{script}, cfg.RootDir)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) prepare(ctx context.Context, cfg *project.Config, logger *slog.Logger) (*container.Environment, error) {
	for _, dir := range []string{cfg.BuildDir, cfg.BuildHome} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("failed to create directory", "path", dir, "error", err)
		}
	}
	env, err := s.EnvironmentPreparer.Prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("environment prepared", "image", env.Image, "local", env.Local)
	return env, nil
}

func (s *Service) compile(ctx context.Context, cfg *project.Config, env *container.Environment, debug bool) error {
	builder, err := builders.For(cfg.Builder)
	if err != nil {
		return err
	}
	return builder.Build(ctx, cfg, env, builders.Options{
		Debug:    debug,
		Verbose:  s.Verbose,
		HostArch: s.HostArch,
	})
}

// hooks runs prebuild or postbuild commands on the host.
func (s *Service) hooks(ctx context.Context, cfg *project.Config, commands []string, dir string) error {
	for _, cmd := range commands {
		err := s.Runner.Run(ctx, shell.Command{
			Name: "bash",
			Args: []string{"-c", cmd},
			Dir:  dir,
			Env:  cfg.Environment(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clean(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.logger().Info("cleaning directory", "path", dir)
	return os.RemoveAll(dir)
}

// installAdditionalFiles copies the install_* patterns into the install
// directory.
func (s *Service) installAdditionalFiles(ctx context.Context, cfg *project.Config, env *container.Environment) ([]string, error) {
	var installed []string
	install := func(pattern, dest string) error {
		files, err := s.installFiles(ctx, cfg, env, pattern, dest)
		installed = append(installed, files...)
		return err
	}

	for _, pattern := range cfg.InstallLib {
		if err := install(pattern, cfg.AppLibDir); err != nil {
			return installed, err
		}
	}
	for _, pattern := range cfg.InstallBin {
		if err := install(pattern, cfg.AppBinDir); err != nil {
			return installed, err
		}
	}
	for _, pattern := range cfg.InstallQml {
		dest, err := qmlDestination(ctx, env, pattern, cfg.AppQmlDir)
		if err != nil {
			return installed, err
		}
		if err := install(pattern, dest); err != nil {
			return installed, err
		}
	}
	for _, pattern := range slices.Sorted(maps.Keys(cfg.InstallData)) {
		if err := install(pattern, cfg.InstallData[pattern]); err != nil {
			return installed, err
		}
	}
	return installed, nil
}

func (s *Service) installFiles(ctx context.Context, cfg *project.Config, env *container.Environment, pattern, dest string) ([]string, error) {
	if !within(cfg.InstallDir, dest) {
		dest = filepath.Join(cfg.InstallDir, dest)
	}
	if strings.Contains(pattern, `"`) {
		return nil, clickerr.Config("install_* patterns must not contain any '\"' quotation character: %s", pattern)
	}
	out, err := env.Output(ctx, "ls -d "+pattern, container.RunOptions{})
	if err != nil {
		return nil, err
	}
	files := strings.Fields(out)
	s.logger().Info("installing files", "files", files, "destination", dest)
	if err := env.PullFiles(ctx, files, dest); err != nil {
		return nil, err
	}
	return files, nil
}

// qmlDestination places a QML module below dest following the module name
// declared in its qmldir. Glob patterns and modules without a module line are
// copied to dest as they are.
func qmlDestination(ctx context.Context, env *container.Environment, pattern, dest string) (string, error) {
	if strings.Contains(pattern, "*") {
		return dest, nil
	}
	qmldir, err := env.Output(ctx, "cat "+filepath.Join(pattern, "qmldir"), container.RunOptions{})
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(qmldir, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "module" {
			continue
		}
		parts := strings.Split(fields[1], ".")
		return filepath.Join(append([]string{dest}, parts[:len(parts)-1]...)...), nil
	}
	return dest, nil
}

func selectLibraries(cfg *project.Config, names []string, action string) ([]*project.Config, error) {
	for _, name := range names {
		if _, ok := cfg.Library(name); !ok {
			return nil, clickerr.Config("cannot %s unknown library %q, which is not in your project config", action, name)
		}
	}
	var out []*project.Config
	for _, lib := range cfg.Libraries {
		if len(names) == 0 || slices.Contains(names, lib.Name) {
			out = append(out, lib)
		}
	}
	return out, nil
}

// withDebug exports DEBUG_BUILD to the commands run in env when debug is set
// and returns the configuration env now runs with. The image is already
// prepared at this point, so the flag never reaches the image descriptor.
func withDebug(env *container.Environment, debug bool) *project.Config {
	if !debug {
		return env.Config
	}
	c := *env.Config
	c.EnvVars = maps.Clone(env.Config.EnvVars)
	if c.EnvVars == nil {
		c.EnvVars = map[string]string{}
	}
	c.EnvVars["DEBUG_BUILD"] = "1"
	env.Config = &c
	return &c
}

func within(parent, path string) bool {
	rel, err := filepath.Rel(parent, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
