// Package builders renders the build commands of each supported builder and
// runs them in a prepared environment.
package builders

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/project"
)

// Runner runs shell command lines for one unit.
type Runner interface {
	Run(ctx context.Context, cmd string, opts container.RunOptions) error
}

var _ Runner = (*container.Environment)(nil)

// Options tune a build.
type Options struct {
	Debug   bool
	Verbose bool
	// HostArch decides whether qmake has to come from the target sysroot.
	HostArch arch.Architecture
}

// Builder compiles one unit into its install directory.
type Builder interface {
	Name() string
	Build(ctx context.Context, cfg *project.Config, run Runner, opts Options) error
}

var registry = map[string]Builder{
	project.BuilderCustom:       custom{},
	project.BuilderCMake:        cmake{name: project.BuilderCMake},
	project.BuilderPureQMLCMake: cmake{name: project.BuilderPureQMLCMake},
	project.BuilderQMake:        qmake{name: project.BuilderQMake},
	project.BuilderPureQMLQMake: qmake{name: project.BuilderPureQMLQMake},
	project.BuilderGo:           golang{},
	project.BuilderRust:         rust{},
	project.BuilderPure:         pure{name: project.BuilderPure},
	project.BuilderPrecompiled:  pure{name: project.BuilderPrecompiled},
}

// For returns the builder registered under name.
func For(name string) (Builder, error) {
	builder, ok := registry[name]
	if !ok {
		return nil, clickerr.ConfigKey("builder", "builder %q is not supported by this version of clickable", name)
	}
	return builder, nil
}

type custom struct{}

func (custom) Name() string { return project.BuilderCustom }

func (custom) Build(ctx context.Context, cfg *project.Config, run Runner, _ Options) error {
	for _, cmd := range cfg.Build {
		if err := run.Run(ctx, cmd, container.RunOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// runMake runs make, the postmake hooks and the install step shared by the
// cmake and qmake builders.
func runMake(ctx context.Context, cfg *project.Config, run Runner, opts Options, install string) error {
	command := join("make", cfg.MakeArgs...)
	if opts.Verbose {
		command += " VERBOSE=1"
	}
	if err := run.Run(ctx, command, container.RunOptions{}); err != nil {
		return err
	}
	for _, cmd := range cfg.Postmake {
		if err := run.Run(ctx, cmd, container.RunOptions{}); err != nil {
			return err
		}
	}
	return run.Run(ctx, install, container.RunOptions{})
}

type cmake struct{ name string }

func (b cmake) Name() string { return b.name }

func (cmake) Build(ctx context.Context, cfg *project.Config, run Runner, opts Options) error {
	buildType := "Release"
	if opts.Debug {
		buildType = "Debug"
	}
	command := join("cmake", cfg.BuildArgs...) +
		fmt.Sprintf(" -DCMAKE_BUILD_TYPE=%s %s -DCMAKE_INSTALL_PREFIX:PATH=/.", buildType, cfg.SrcDir)
	if err := run.Run(ctx, command, container.RunOptions{}); err != nil {
		return err
	}
	return runMake(ctx, cfg, run, opts, fmt.Sprintf("make DESTDIR=%s/ install", cfg.InstallDir))
}

type qmake struct{ name string }

func (b qmake) Name() string { return b.name }

func (qmake) Build(ctx context.Context, cfg *project.Config, run Runner, opts Options) error {
	command := "qmake"
	if cfg.Arch != opts.HostArch && cfg.Arch != arch.All && cfg.QtVersion != "5.9" {
		command = fmt.Sprintf("/usr/lib/%s/qt5/bin/qmake", cfg.ArchTriplet)
	}
	command = join(command, cfg.BuildArgs...)
	if opts.Debug {
		command += " CONFIG+=debug"
	}
	// an explicit .pro file in build_args replaces the source directory
	if !slices.ContainsFunc(cfg.BuildArgs, func(arg string) bool { return strings.HasSuffix(arg, ".pro") }) {
		command += " " + cfg.SrcDir
	}
	if err := run.Run(ctx, command, container.RunOptions{}); err != nil {
		return err
	}
	return runMake(ctx, cfg, run, opts, fmt.Sprintf("make INSTALL_ROOT=%s/ install", cfg.InstallDir))
}

type golang struct{}

func (golang) Name() string { return project.BuilderGo }

func (golang) Build(ctx context.Context, cfg *project.Config, run Runner, _ Options) error {
	command := strings.Join([]string{
		"/usr/local/go/bin/go", "build",
		"-pkgdir", cfg.BuildDir,
		"-o", cfg.InstallDir,
		".",
	}, " ")
	return run.Run(ctx, command, container.RunOptions{Dir: cfg.SrcDir})
}

type rust struct{}

func (rust) Name() string { return project.BuilderRust }

func (rust) Build(ctx context.Context, cfg *project.Config, run Runner, opts Options) error {
	channel := cfg.RustChannel
	if channel == "" {
		channel = "$CLICKABLE_RUST_CHANNEL"
	}
	args := []string{
		"cargo", "+" + channel, "install",
		"--target", cfg.ArchRust,
		"--target-dir", cfg.BuildDir,
		"--root", cfg.InstallDir,
		"--path", cfg.SrcDir,
	}
	if opts.Debug {
		args = append(args, "--debug")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	args = append(args, cfg.BuildArgs...)
	return run.Run(ctx, strings.Join(args, " "), container.RunOptions{Dir: cfg.SrcDir})
}

// pure copies the project tree into the install directory on the host.
type pure struct{ name string }

func (b pure) Name() string { return b.name }

func (pure) Build(_ context.Context, cfg *project.Config, _ Runner, _ Options) error {
	ignored := func(path, name string) bool {
		return path == filepath.Clean(cfg.InstallDir) ||
			path == filepath.Clean(cfg.BuildDir) ||
			slices.Contains(cfg.Ignore, name) ||
			slices.Contains(project.ProjectFileNames, name)
	}
	return CopyTree(cfg.RootDir, cfg.InstallDir, ignored)
}

func join(command string, args ...string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}
