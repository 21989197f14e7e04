package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cochaviz/clickable/internal/deploy"
)

func newScriptCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "script <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Run a script defined in the project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "script"), opts, "script")
			if err != nil {
				return err
			}
			return w.Builds.Script(cmd.Context(), w.Config, args[0])
		},
	}
}

func newInstallCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var request deploy.InstallRequest

	cmd := &cobra.Command{
		Use:   "install [click]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Install a click package on the device, the one in the build directory by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "install"), opts, "install")
			if err != nil {
				return err
			}
			dev, err := w.Device(cmd.Context(), true)
			if err != nil {
				return err
			}
			req := request
			if len(args) == 1 {
				req.Click = args[0]
			}
			return w.Deploys.Install(cmd.Context(), dev, w.Config, req)
		},
	}

	cmd.Flags().BoolVar(&request.SkipUninstall, "skip-uninstall", false, "Install over the installed version instead of removing it first")
	return cmd
}

func newLaunchCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var request deploy.LaunchRequest

	cmd := &cobra.Command{
		Use:   "launch [package]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Start the app on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "launch"), opts, "launch")
			if err != nil {
				return err
			}
			dev, err := w.Device(cmd.Context(), true)
			if err != nil {
				return err
			}
			req := request
			if len(args) == 1 {
				req.Package = args[0]
			}
			return w.Deploys.Launch(cmd.Context(), dev, w.Config, req)
		},
	}

	cmd.Flags().BoolVar(&request.SkipKill, "skip-kill", false, "Do not stop a running instance first")
	cmd.Flags().StringVar(&request.Kill, "kill", "", "Process to stop before launching, overrides the project config")
	return cmd
}

func newLogsCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [package]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Follow the log file of the app on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "logs"), opts, "logs")
			if err != nil {
				return err
			}
			dev, err := w.Device(cmd.Context(), true)
			if err != nil {
				return err
			}
			var pkg string
			if len(args) == 1 {
				pkg = args[0]
			}
			return w.Deploys.Logs(cmd.Context(), dev, w.Config, pkg)
		},
	}
}

func newShellCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "shell",
		Aliases: []string{"ssh"},
		Args:    cobra.NoArgs,
		Short:   "Open a shell on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := open(cmd.Context(), logger.With("command", "shell"), opts, "shell")
			if err != nil {
				return err
			}
			dev, err := w.Device(cmd.Context(), true)
			if err != nil {
				return err
			}
			return w.Deploys.Shell(cmd.Context(), dev)
		},
	}
}
