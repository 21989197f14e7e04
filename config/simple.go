package simple

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/build"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/deploy"
	"github.com/cochaviz/clickable/internal/device"
	"github.com/cochaviz/clickable/internal/logging"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/setup"
	"github.com/cochaviz/clickable/internal/shell"
)

// Options are the inputs the CLI collected for one invocation.
type Options struct {
	Root       string
	Home       string
	ConfigPath string
	// GlobalPath overrides the global config file; empty uses the default
	// below Home.
	GlobalPath string
	Env        map[string]string
	Flags      project.Flags
	Commands   []string
	Verbose    bool
}

// Workspace wires the services for a resolved project.
type Workspace struct {
	Config   *project.Config
	HostArch arch.Architecture
	Runner   shell.Runner
	Manager  *container.Manager
	Builds   *build.Service
	Deploys  *deploy.Service
	Devices  *device.Resolver
	Host     *setup.Host
	// Selection is the device channel requested on the command line.
	Selection device.Selection
	// Runtime is the container runtime executable, empty in container mode.
	Runtime string
	Logger  *slog.Logger
}

// Open resolves the project configuration and wires the services around it.
// With --arch detect the attached device is detected first and the project is
// resolved for its architecture.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Workspace, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	host, err := arch.Host()
	if err != nil {
		return nil, clickerr.Env("clickable supports amd64, arm64 and armhf hosts", "%v", err)
	}
	if opts.Home == "" {
		if opts.Home, err = os.UserHomeDir(); err != nil {
			return nil, clickerr.Env("set HOME", "cannot locate the home directory: %v", err)
		}
	}

	in := project.Inputs{
		Root:           opts.Root,
		Home:           opts.Home,
		ConfigPath:     opts.ConfigPath,
		GlobalPath:     opts.GlobalPath,
		GlobalExplicit: opts.GlobalPath != "",
		Env:            opts.Env,
		Flags:          opts.Flags,
		Commands:       opts.Commands,
		HostArch:       host,
		Logger:         logger,
	}
	if in.GlobalPath == "" {
		in.GlobalPath = setup.GlobalConfigPath(opts.Home)
	}

	cfg, err := project.Resolve(in)
	if err != nil {
		return nil, err
	}

	runner := &shell.Exec{Logger: logger.With("component", "shell")}
	w := &Workspace{
		Config:   cfg,
		HostArch: host,
		Runner:   runner,
		Logger:   logger,
	}
	w.Host = &setup.Host{Home: opts.Home, Runner: runner, Logger: logger.With("component", "setup")}
	w.Devices = w.newDeviceResolver(cfg)
	if w.Selection, err = selection(opts.Flags); err != nil {
		return nil, err
	}

	if arch.Architecture(opts.Flags.Arch) == arch.Detect {
		deviceArch := cfg.Device.Arch
		if deviceArch == "" {
			dev, err := w.Device(ctx, true)
			if err != nil {
				return nil, err
			}
			deviceArch = string(dev.Arch)
		}
		logger.Info("building for the device architecture", "arch", deviceArch)
		in.Flags.Arch = ""
		in.DeviceArch = deviceArch
		if w.Config, err = project.Resolve(in); err != nil {
			return nil, err
		}
		cfg = w.Config
	}

	uid, gid := container.CurrentUser()
	w.Manager = &container.Manager{
		Runner:   runner,
		HostArch: host,
		UID:      uid,
		GID:      gid,
		Logger:   logger.With("component", "container"),
	}
	if !cfg.ContainerMode {
		name, err := container.DetectRuntime(opts.Env, nil)
		if err != nil {
			return nil, err
		}
		cli, err := container.NewCLI(name, runner, logger.With("component", "runtime"))
		if err != nil {
			return nil, fmt.Errorf("create container runtime: %w", err)
		}
		w.Runtime = name
		w.Manager.Runtime = cli
	}

	w.Builds = &build.Service{
		Logger:              logger.With("service", "build"),
		EnvironmentPreparer: w.Manager,
		Runner:              runner,
		HostArch:            host,
		Verbose:             opts.Verbose,
	}
	w.Deploys = &deploy.Service{
		Logger: logger.With("service", "deploy"),
		Home:   opts.Home,
	}
	return w, nil
}

// VerifyRuntime checks that the container runtime is usable.
func (w *Workspace) VerifyRuntime(ctx context.Context) error {
	return w.Host.Verify(ctx, w.Runtime, w.Config.ContainerMode)
}

// Device resolves the device over the channel selected by the flags, or by
// detection.
func (w *Workspace) Device(ctx context.Context, required bool) (*device.Device, error) {
	return w.Devices.Resolve(ctx, w.Selection, required)
}

// Environment prepares the execution environment of the app.
func (w *Workspace) Environment(ctx context.Context) (*container.Environment, error) {
	return w.Manager.Prepare(ctx, w.Config)
}

// BaseImages lists the base images known for this host.
func (w *Workspace) BaseImages() []string {
	return project.BaseImages(w.HostArch)
}

func (w *Workspace) newDeviceResolver(cfg *project.Config) *device.Resolver {
	return &device.Resolver{
		Runner: w.Runner,
		Settings: device.Settings{
			IPv4:          cfg.Device.IPv4,
			SSHPort:       cfg.Device.SSHPort,
			SerialNumber:  cfg.Device.SerialNumber,
			DefaultTarget: cfg.Device.DefaultTarget,
		},
		HostArch: w.HostArch,
		Routes:   device.NetlinkRouter{},
		Logger:   w.Logger.With("component", "device"),
	}
}

// selection forces the channel named by --target. An explicit --ssh address
// forces SSH; otherwise the channels are tried.
func selection(flags project.Flags) (device.Selection, error) {
	sel, err := device.ParseSelection(flags.Target)
	if err != nil {
		return "", err
	}
	if sel == device.Detect && flags.SSH != "" {
		return device.SSH, nil
	}
	return sel, nil
}
