package main

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	simple "github.com/cochaviz/clickable/config"
	"github.com/cochaviz/clickable/internal/build"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/deploy"
	"github.com/cochaviz/clickable/internal/device"
)

// chainable lists the commands a chain may contain.
var chainable = []string{"clean", "clean-libs", "build", "build-libs", "test", "install", "launch", "logs"}

// unchainable commands exist but take arguments or own the terminal.
var unchainable = []string{"chain", "script", "run", "shell", "setup", "config", "devices", "device-arch", "update-images", "clean-images", "version"}

// checkChain rejects chains that cannot run before any step starts.
func checkChain(steps []string) error {
	if len(steps) == 0 {
		return clickerr.ConfigKey("default", "no commands to run").
			WithHint(`set "default" in the project config or name the commands`)
	}
	for _, step := range steps {
		switch {
		case slices.Contains(chainable, step):
		case slices.Contains(unchainable, step):
			return clickerr.Config("command %q cannot be part of a chain", step)
		default:
			return clickerr.Config("command %q is unknown to clickable", step).
				WithHint("chainable commands: " + strings.Join(chainable, ", "))
		}
	}
	return nil
}

// withClean prepends a clean step to chains that build.
func withClean(steps []string) []string {
	builds := slices.Contains(steps, "build") || slices.Contains(steps, "build-libs")
	if !builds || steps[0] == "clean" {
		return steps
	}
	return append([]string{"clean"}, steps...)
}

// chain runs the steps of one invocation against a single workspace. The
// device is resolved on first use and shared by later steps.
type chain struct {
	w      *simple.Workspace
	logger *slog.Logger
	dev    *device.Device
}

func (c *chain) device(ctx context.Context) (*device.Device, error) {
	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := c.w.Device(ctx, true)
	if err != nil {
		return nil, err
	}
	c.dev = dev
	return dev, nil
}

func (c *chain) run(ctx context.Context, steps []string) error {
	c.logger.Info("running command chain", "commands", steps)
	for _, step := range steps {
		c.logger.Info("running command", "step", step)
		if err := c.step(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (c *chain) step(ctx context.Context, name string) error {
	cfg := c.w.Config
	switch name {
	case "clean":
		return c.w.Builds.Clean(cfg, true, nil)
	case "clean-libs":
		return c.w.Builds.Clean(cfg, false, []string{})
	case "build":
		_, err := c.w.Builds.Run(ctx, cfg, &build.Request{})
		return err
	case "build-libs":
		_, err := c.w.Builds.BuildLibraries(ctx, cfg, &build.Request{})
		return err
	case "test":
		return c.w.Builds.Test(ctx, cfg)
	}

	dev, err := c.device(ctx)
	if err != nil {
		return err
	}
	switch name {
	case "install":
		return c.w.Deploys.Install(ctx, dev, cfg, deploy.InstallRequest{})
	case "launch":
		return c.w.Deploys.Launch(ctx, dev, cfg, deploy.LaunchRequest{})
	case "logs":
		return c.w.Deploys.Logs(ctx, dev, cfg, "")
	}
	return clickerr.Config("command %q cannot be part of a chain", name)
}

// needsRuntime reports whether any step runs in the build environment.
func needsRuntime(steps []string) bool {
	return slices.ContainsFunc(steps, func(step string) bool {
		return step == "build" || step == "build-libs" || step == "test"
	})
}

// runChain opens the project for steps, the configured default chain when
// empty, and runs them.
func runChain(ctx context.Context, logger *slog.Logger, opts *globalOptions, steps []string, clean bool) error {
	w, err := open(ctx, logger, opts, steps...)
	if err != nil {
		return err
	}
	steps = w.Config.Commands
	if err := checkChain(steps); err != nil {
		return err
	}
	if clean {
		steps = withClean(steps)
	}
	if needsRuntime(steps) {
		if err := w.VerifyRuntime(ctx); err != nil {
			return err
		}
	}
	return (&chain{w: w, logger: logger}).run(ctx, steps)
}

func newChainCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var clean bool

	cmd := &cobra.Command{
		Use:     "chain [command...]",
		Aliases: []string{"default"},
		Short:   "Run several commands in a row, the default chain when none is named",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChain(cmd.Context(), logger.With("command", "chain"), opts, args, clean)
		},
	}

	cmd.Flags().BoolVar(&clean, "clean", false, "Remove the build directory before building")
	return cmd
}
