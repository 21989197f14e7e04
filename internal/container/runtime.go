// Package container prepares the environment build commands run in: the
// host itself in container mode, or a container started from a base image or
// a cached image derived from it.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/shell"
)

// CommandEnv overrides the container runtime executable.
const CommandEnv = "CLICKABLE_DOCKER_COMMAND"

// Podman is handled specially when rendering id mappings.
const Podman = "podman"

// Runtime is the part of a docker compatible CLI the manager needs.
type Runtime interface {
	Executable() string
	ImageExists(ctx context.Context, image string) (bool, error)
	// History returns the layer ids of image, newest first.
	History(ctx context.Context, image string) ([]string, error)
	Label(ctx context.Context, image, key string) (string, error)
	Build(ctx context.Context, dir, tag string) error
	Pull(ctx context.Context, image string) error
	// Images lists the repositories of all local images.
	Images(ctx context.Context) ([]string, error)
	RemoveImages(ctx context.Context, images ...string) error
	Create(ctx context.Context, image string, args []string) (string, error)
	CopyFrom(ctx context.Context, container, src, dst string) error
	RemoveContainer(ctx context.Context, container string) error
}

// DetectRuntime picks the runtime executable: the override from env, else
// podman, else docker.
func DetectRuntime(env map[string]string, lookPath func(string) (string, error)) (string, error) {
	if lookPath == nil {
		lookPath = shell.LookPath
	}
	if name := env[CommandEnv]; name != "" {
		if _, err := lookPath(name); err != nil {
			return "", clickerr.Env(fmt.Sprintf("install %s or unset %s", name, CommandEnv),
				"container runtime %q does not exist on this system", name)
		}
		return name, nil
	}
	for _, name := range []string{Podman, "docker"} {
		if _, err := lookPath(name); err == nil {
			return name, nil
		}
	}
	return "", clickerr.Env("install docker or podman, or use --container-mode inside a prepared container",
		"neither docker nor podman exists on this system")
}

const historyCacheSize = 128

// CLI drives a docker compatible command line tool.
type CLI struct {
	Name   string
	Runner shell.Runner
	Logger *slog.Logger

	history *lru.Cache[string, []string]
}

var _ Runtime = (*CLI)(nil)

// NewCLI returns a runtime for executable name.
func NewCLI(name string, runner shell.Runner, logger *slog.Logger) (*CLI, error) {
	history, err := lru.New[string, []string](historyCacheSize)
	if err != nil {
		return nil, err
	}
	return &CLI{Name: name, Runner: runner, Logger: logger, history: history}, nil
}

func (c *CLI) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *CLI) Executable() string {
	return c.Name
}

func (c *CLI) command(args ...string) shell.Command {
	return shell.Command{Name: c.Name, Args: args}
}

func (c *CLI) quiet(args ...string) shell.Command {
	cmd := c.command(args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd
}

func (c *CLI) ImageExists(ctx context.Context, image string) (bool, error) {
	err := c.Runner.Run(ctx, c.quiet("image", "inspect", image))
	var exitErr *shell.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr):
		return false, nil
	default:
		return false, err
	}
}

func (c *CLI) History(ctx context.Context, image string) ([]string, error) {
	if layers, ok := c.history.Get(image); ok {
		return layers, nil
	}
	out, err := c.Runner.Output(ctx, c.command("history", "--no-trunc", "-q", image))
	if err != nil {
		return nil, err
	}
	layers := nonEmptyLines(out)
	c.history.Add(image, layers)
	return layers, nil
}

func (c *CLI) Label(ctx context.Context, image, key string) (string, error) {
	format := fmt.Sprintf(`{{ index .Config.Labels %q}}`, key)
	out, err := c.Runner.Output(ctx, c.command("inspect", "--format", format, image))
	return strings.TrimSpace(out), err
}

func (c *CLI) Build(ctx context.Context, dir, tag string) error {
	c.history.Remove(tag)
	cmd := c.command("build", "-t", tag, ".")
	cmd.Dir = dir
	return c.Runner.Run(ctx, cmd)
}

func (c *CLI) Pull(ctx context.Context, image string) error {
	c.history.Remove(image)
	return c.Runner.Run(ctx, c.command("pull", image))
}

func (c *CLI) Images(ctx context.Context) ([]string, error) {
	out, err := c.Runner.Output(ctx, c.command("images", "--format", "{{.Repository}}"))
	if err != nil {
		return nil, err
	}
	return nonEmptyLines(out), nil
}

func (c *CLI) RemoveImages(ctx context.Context, images ...string) error {
	for _, image := range images {
		c.history.Remove(image)
	}
	return c.Runner.Run(ctx, c.command(append([]string{"rmi"}, images...)...))
}

func (c *CLI) Create(ctx context.Context, image string, args []string) (string, error) {
	full := slices.Concat([]string{"create"}, args, []string{image})
	out, err := c.Runner.Output(ctx, c.command(full...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *CLI) CopyFrom(ctx context.Context, container, src, dst string) error {
	return c.Runner.Run(ctx, c.command("cp", container+":"+src, dst))
}

func (c *CLI) RemoveContainer(ctx context.Context, container string) error {
	c.logger().Debug("removing container", "container", container)
	return c.Runner.Run(ctx, c.quiet("rm", container))
}

func nonEmptyLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
