package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	simple "github.com/cochaviz/clickable/config"
	"github.com/cochaviz/clickable/internal/build"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/logging"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/setup"
	"github.com/cochaviz/clickable/internal/shell"
	"github.com/cochaviz/clickable/internal/version"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.New(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	switch {
	case code == 0 && err != nil:
		logger.Warn("command interrupted", "error", err)
	case code != 0:
		args := []any{"error", err}
		if hint := clickerr.HintOf(err); hint != "" {
			args = append(args, "hint", hint)
		}
		logger.Error("command execution failed", args...)
	}
	os.Exit(code)
}

// exitCode maps an error to the process exit status: 1 for configuration,
// environment, device and cache errors, 2 when a command failed and 3 for
// anything unexpected.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		return 2
	}
	var clickErr *clickerr.Error
	if errors.As(err, &clickErr) && clickErr.Kind != clickerr.Build {
		return 1
	}
	return 3
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	globalPath string
	verbose    bool
	flags      project.Flags
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "clickable",
		Short:         "Build and deploy click packages for Ubuntu Touch",
		Long:          "Build and deploy click packages for Ubuntu Touch.\n\nWithout a command the default chain of the project runs, build, install and launch unless configured otherwise.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChain(cmd.Context(), logger.With("command", "default"), opts, nil, false)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.BoolVar(&opts.verbose, "verbose", false, "Show verbose build output")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Use the specified project config file")
	flags.StringVar(&opts.globalPath, "global-config", "", "Use the specified global config file")
	flags.StringVarP(&opts.flags.Arch, "arch", "a", "", "Target architecture (armhf, arm64, amd64, all or detect)")
	flags.StringVarP(&opts.flags.SerialNumber, "serial-number", "s", "", "Serial number of the adb device to use")
	flags.StringVar(&opts.flags.SSH, "ssh", "", "IP address of a device reachable over ssh")
	flags.IntVar(&opts.flags.SSHPort, "ssh-port", 0, "SSH port of the device")
	flags.StringVar(&opts.flags.Target, "target", "", "Device channel to use (detect, ssh, adb or host)")
	flags.BoolVar(&opts.flags.ContainerMode, "container-mode", false, "Run all commands on the host, for use inside a container")
	flags.StringVar(&opts.flags.DockerImage, "docker-image", "", "Use a specific container image")
	flags.BoolVar(&opts.flags.Nvidia, "nvidia", false, "Use the nvidia variant of the image")
	flags.BoolVar(&opts.flags.NoNvidia, "no-nvidia", false, "Never use the nvidia variant of the image")
	flags.BoolVar(&opts.flags.NonInteractive, "non-interactive", false, "Do not ask questions")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if opts.verbose {
			level = min(level, slog.LevelDebug)
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newBuildCommand(logger, opts),
		newBuildLibsCommand(logger, opts),
		newCleanCommand(logger, opts),
		newCleanLibsCommand(logger, opts),
		newTestCommand(logger, opts),
		newChainCommand(logger, opts),
		newScriptCommand(logger, opts),
		newInstallCommand(logger, opts),
		newLaunchCommand(logger, opts),
		newLogsCommand(logger, opts),
		newShellCommand(logger, opts),
		newRunCommand(logger, opts),
		newDevicesCommand(logger, opts),
		newDeviceArchCommand(logger, opts),
		newUpdateImagesCommand(logger, opts),
		newCleanImagesCommand(logger, opts),
		newConfigCommand(logger, opts),
		newSetupCommand(logger, opts),
		newVersionCommand(),
	)
	return root
}

// open resolves the project in the working directory for the named commands.
// No commands means the default chain of the project.
func open(ctx context.Context, logger *slog.Logger, opts *globalOptions, commands ...string) (*simple.Workspace, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return simple.Open(ctx, simple.Options{
		Root:       root,
		ConfigPath: opts.configPath,
		GlobalPath: opts.globalPath,
		Env:        project.EnvironFromOS(),
		Flags:      opts.flags,
		Commands:   commands,
		Verbose:    opts.verbose,
	}, logger)
}

// openVerified also checks that the container runtime answers.
func openVerified(ctx context.Context, logger *slog.Logger, opts *globalOptions, command string) (*simple.Workspace, error) {
	w, err := open(ctx, logger, opts, command)
	if err != nil {
		return nil, err
	}
	if err := w.VerifyRuntime(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func newBuildCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var request build.Request

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Build the app",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "build")
			w, err := openVerified(cmd.Context(), cmdLogger, opts, "build")
			if err != nil {
				return err
			}

			req := request
			req.Clean = req.Clean || w.Config.AlwaysClean
			result, err := w.Builds.Run(cmd.Context(), w.Config, &req)
			if err != nil {
				return err
			}
			cmdLogger.Info("app built", "install_dir", result.InstallDir, "installed_files", len(result.Installed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&request.Clean, "clean", false, "Remove the build directory before building")
	cmd.Flags().BoolVar(&request.Debug, "debug", false, "Build with debug information")
	cmd.Flags().StringVar(&request.Output, "output", "", "Copy the install directory here after the build")
	return cmd
}

func newBuildLibsCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var request build.Request

	cmd := &cobra.Command{
		Use:   "build-libs [library...]",
		Short: "Build the project libraries, all of them when none is named",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "build-libs")
			w, err := openVerified(cmd.Context(), cmdLogger, opts, "build-libs")
			if err != nil {
				return err
			}

			req := request
			req.Clean = req.Clean || w.Config.AlwaysClean
			req.Libraries = args
			results, err := w.Builds.BuildLibraries(cmd.Context(), w.Config, &req)
			if err != nil {
				return err
			}
			for _, result := range results {
				cmdLogger.Info("library built", "library", result.Unit, "install_dir", result.InstallDir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&request.Clean, "clean", false, "Remove the build directories before building")
	cmd.Flags().BoolVar(&request.Debug, "debug", false, "Build with debug information")
	return cmd
}

func newCleanCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove the build directory of the app",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "clean"), opts, "clean")
			if err != nil {
				return err
			}
			return w.Builds.Clean(w.Config, true, nil)
		},
	}
}

func newCleanLibsCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-libs [library...]",
		Short: "Remove the build directories of the libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "clean-libs"), opts, "clean-libs")
			if err != nil {
				return err
			}
			if args == nil {
				args = []string{}
			}
			return w.Builds.Clean(w.Config, false, args)
		},
	}
}

func newTestCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Args:  cobra.NoArgs,
		Short: "Run the project tests on a virtual screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openVerified(cmd.Context(), logger.With("command", "test"), opts, "test")
			if err != nil {
				return err
			}
			return w.Builds.Test(cmd.Context(), w.Config)
		},
	}
}

func newRunCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var asUser bool

	cmd := &cobra.Command{
		Use:   "run [command...]",
		Short: "Run a command in the build environment, a shell by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "run")
			w, err := openVerified(cmd.Context(), cmdLogger, opts, "run")
			if err != nil {
				return err
			}
			env, err := w.Environment(cmd.Context())
			if err != nil {
				return err
			}

			script := strings.Join(args, " ")
			if script == "" {
				script = "bash"
			}
			cmdLogger.Debug("running command", "script", script, "image", env.Image)
			return env.Run(cmd.Context(), script, container.RunOptions{
				Root:        !asUser,
				Dir:         w.Config.RootDir,
				TTY:         term.IsTerminal(int(os.Stdin.Fd())),
				HostNetwork: true,
				Stdin:       os.Stdin,
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().BoolVar(&asUser, "user", false, "Run as the current user instead of root")
	return cmd
}

func newDevicesCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Args:  cobra.NoArgs,
		Short: "List the devices attached over adb",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "devices"), opts, "devices")
			if err != nil {
				return err
			}
			attached, err := w.Devices.Attached(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(attached) == 0 {
				fmt.Fprintln(out, "no attached devices")
				return nil
			}
			for _, device := range attached {
				fmt.Fprintln(out, device)
			}
			return nil
		},
	}
}

func newDeviceArchCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device-arch",
		Args:  cobra.NoArgs,
		Short: "Print the architecture of the connected device",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "device-arch"), opts, "device-arch")
			if err != nil {
				return err
			}
			dev, err := w.Device(cmd.Context(), true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dev.Arch)
			return nil
		},
	}
}

func newUpdateImagesCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update-images",
		Args:  cobra.NoArgs,
		Short: "Pull the latest version of every local base image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "update-images")
			w, err := openVerified(cmd.Context(), cmdLogger, opts, "update-images")
			if err != nil {
				return err
			}
			if w.Config.ContainerMode {
				cmdLogger.Warn("container mode has no images to update")
				return nil
			}
			return w.Manager.UpdateImages(cmd.Context(), w.BaseImages())
		},
	}
}

func newCleanImagesCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean-images",
		Args:  cobra.NoArgs,
		Short: "Remove derived images that no longer match their base image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "clean-images")
			w, err := openVerified(cmd.Context(), cmdLogger, opts, "clean-images")
			if err != nil {
				return err
			}
			if w.Config.ContainerMode {
				cmdLogger.Warn("container mode has no images to clean")
				return nil
			}

			var confirm container.Confirm
			if w.Config.Interactive {
				confirm = func(images []string) (bool, error) {
					return confirmRemoval(cmd.InOrStdin(), cmd.OutOrStdout(), images)
				}
			}
			removed, err := w.Manager.CleanImages(cmd.Context(), w.BaseImages(), all, confirm)
			if err != nil {
				return err
			}
			for _, image := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", image)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every derived image")
	return cmd
}

func confirmRemoval(in io.Reader, out io.Writer, images []string) (bool, error) {
	fmt.Fprintln(out, "The following images will be removed:")
	for _, image := range images {
		fmt.Fprintln(out, "  "+image)
	}
	fmt.Fprint(out, "Continue? [y/N] ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func newConfigCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Args:  cobra.NoArgs,
		Short: "Print the resolved project configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "config"), opts, "config")
			if err != nil {
				return err
			}
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			if err := encoder.Encode(w.Config); err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}
			return encoder.Close()
		},
	}
}

func newSetupCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var clearConfig bool

	cmd := &cobra.Command{
		Use:   "setup",
		Args:  cobra.NoArgs,
		Short: "Write the default global configuration and check the container runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "setup")

			home, err := os.UserHomeDir()
			if err != nil {
				return clickerr.Env("set HOME", "cannot locate the home directory: %v", err)
			}
			host := &setup.Host{
				Home:   home,
				Runner: &shell.Exec{Logger: cmdLogger.With("component", "shell")},
				Logger: cmdLogger.With("component", "setup"),
			}
			if clearConfig {
				if err := host.ClearConfig(); err != nil {
					cmdLogger.Error("clear configuration failed", "error", err)
					return fmt.Errorf("clear configuration: %w", err)
				}
			}
			if _, err := host.Initialize(); err != nil {
				return err
			}

			if opts.flags.ContainerMode {
				return nil
			}
			runtime, err := container.DetectRuntime(project.EnvironFromOS(), nil)
			if err != nil {
				return err
			}
			if err := host.Verify(cmd.Context(), runtime, false); err != nil {
				return err
			}
			cmdLogger.Info("setup completed", "runtime", runtime)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Remove the existing global configuration first")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Args:  cobra.NoArgs,
		Short: "Print the clickable version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "clickable", version.Current)
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
