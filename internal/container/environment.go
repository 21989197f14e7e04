package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
)

const (
	gopathMount = "/gopath/path"
	cargoMount  = "/opt/rust/cargo"
)

// signalWrapper keeps non-interactive runs interruptible: bash forwards
// SIGINT and SIGTERM to the waiting shell instead of ignoring them as PID 1.
const signalWrapper = `set -Eeou pipefail
trap "exit" SIGINT
trap "exit" SIGTERM
%s &
bg_pid=$!
wait $bg_pid
exit $?`

// Environment runs commands for one prepared unit, either on the host or in
// a container.
type Environment struct {
	Config *project.Config
	// Local is set in container mode.
	Local    bool
	Image    string
	Runtime  Runtime
	Runner   shell.Runner
	UID      int
	GID      int
	HostArch arch.Architecture
	Logger   *slog.Logger

	// env is the image_setup environment applied in container mode.
	env map[string]string
}

// RunOptions tune a single command.
type RunOptions struct {
	// Root runs the command as root inside the container.
	Root bool
	// Dir is the working directory; the build directory when empty.
	Dir         string
	TTY         bool
	HostNetwork bool
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

func (e *Environment) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run executes the shell command line cmd.
func (e *Environment) Run(ctx context.Context, cmd string, opts RunOptions) error {
	command, err := e.Command(cmd, opts)
	if err != nil {
		return err
	}
	return e.Runner.Run(ctx, command)
}

// Output executes cmd and returns its standard output.
func (e *Environment) Output(ctx context.Context, cmd string, opts RunOptions) (string, error) {
	command, err := e.Command(cmd, opts)
	if err != nil {
		return "", err
	}
	return e.Runner.Output(ctx, command)
}

// Command renders the invocation of cmd without running it.
func (e *Environment) Command(cmd string, opts RunOptions) (shell.Command, error) {
	dir := opts.Dir
	if dir == "" {
		dir = e.Config.BuildDir
	}
	if e.Local {
		return e.localCommand(cmd, dir, opts)
	}
	return e.containerCommand(cmd, dir, opts)
}

func (e *Environment) localCommand(cmd, dir string, opts RunOptions) (shell.Command, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shell.Command{}, clickerr.Env("", "failed to create %s: %v", dir, err)
	}
	env := e.Config.Environment()
	maps.Copy(env, e.env)
	return shell.Command{
		Name:        "bash",
		Args:        []string{"-c", cmd},
		Dir:         dir,
		Env:         env,
		Stdin:       opts.Stdin,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
		Interactive: opts.TTY,
	}, nil
}

func (e *Environment) containerCommand(cmd, dir string, opts RunOptions) (shell.Command, error) {
	args, err := e.runArgs(dir, opts)
	if err != nil {
		return shell.Command{}, err
	}
	if !opts.TTY {
		cmd = fmt.Sprintf(signalWrapper, cmd)
	}
	args = append(args, e.Image, "bash", "-c", cmd)

	return shell.Command{
		Name:        e.Runtime.Executable(),
		Args:        args,
		Stdin:       opts.Stdin,
		Stdout:      opts.Stdout,
		Stderr:      opts.Stderr,
		Interactive: opts.TTY,
	}, nil
}

// runArgs renders everything between "run" and the image name.
func (e *Environment) runArgs(dir string, opts RunOptions) ([]string, error) {
	cfg := e.Config
	args := []string{"run"}

	mounts, gopaths, err := e.mounts(dir)
	if err != nil {
		return nil, err
	}
	for _, mount := range mounts {
		args = append(args, "-v", mount[0]+":"+mount[1]+":Z")
	}

	env := cfg.Environment()
	env["HOME"] = cfg.BuildHome
	if len(gopaths) > 0 {
		env["GOPATH"] = strings.Join(gopaths, ":")
	}
	if cfg.RustChannel != "" || cfg.Builder == project.BuilderRust {
		env["CARGO_HOME"] = cargoMount
	}
	for _, key := range slices.Sorted(maps.Keys(env)) {
		args = append(args, "-e", key+"="+env[key])
	}

	if !opts.Root {
		args = append(args, "--user", strconv.Itoa(e.UID))
		if e.Runtime.Executable() == Podman {
			uid, gid := strconv.Itoa(e.UID), strconv.Itoa(e.GID)
			args = append(args,
				"--uidmap", uid+":0:1", "--uidmap", "0:1:"+uid,
				"--gidmap", gid+":0:1", "--gidmap", "0:1:"+gid,
			)
		}
	}

	args = append(args, "-w", dir, "--rm")
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.HostNetwork {
		args = append(args, "--network=host")
	}
	return append(args, "-i"), nil
}

// mounts returns host to container path pairs plus the container side GOPATH
// entries. Paths are mounted at the same location inside the container.
func (e *Environment) mounts(dir string) ([][2]string, []string, error) {
	cfg := e.Config
	var mounts [][2]string
	var gopaths []string
	add := func(host, target string) {
		for _, mount := range mounts {
			if mount[1] == target {
				return
			}
		}
		mounts = append(mounts, [2]string{host, target})
	}

	if cfg.Builder == project.BuilderGo && cfg.Gopath != "" {
		for i, path := range filepath.SplitList(cfg.Gopath) {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, nil, clickerr.Env("", "failed to create %s: %v", path, err)
			}
			target := gopathMount + strconv.Itoa(i)
			add(path, target)
			gopaths = append(gopaths, target)
		}
	}

	if cfg.Builder == project.BuilderRust && cfg.CargoHome != "" {
		if err := os.MkdirAll(cfg.CargoHome, 0o755); err != nil {
			return nil, nil, clickerr.Env("", "failed to create %s: %v", cfg.CargoHome, err)
		}
		for _, name := range []string{"registry", "git"} {
			path := filepath.Join(cfg.CargoHome, name)
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, nil, clickerr.Env("", "failed to create %s: %v", path, err)
			}
			add(path, cargoMount+"/"+name)
		}
		lock := filepath.Join(cfg.CargoHome, ".package-cache")
		if err := touch(lock); err != nil {
			return nil, nil, clickerr.Env("", "failed to create %s: %v", lock, err)
		}
		add(lock, cargoMount+"/.package-cache")
	}

	add(cfg.RootDir, cfg.RootDir)
	if !within(cfg.RootDir, cfg.BuildDir) {
		add(cfg.BuildDir, cfg.BuildDir)
	}
	if !within(cfg.RootDir, dir) && !within(cfg.BuildDir, dir) {
		add(dir, dir)
	}
	return mounts, gopaths, nil
}

// PullFiles copies files out of the environment into dst.
func (e *Environment) PullFiles(ctx context.Context, files []string, dst string) (err error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if e.Local {
		for _, file := range files {
			if err := copyPath(file, filepath.Join(dst, filepath.Base(file))); err != nil {
				return err
			}
		}
		return nil
	}

	mounts, _, err := e.mounts(e.Config.BuildDir)
	if err != nil {
		return err
	}
	var args []string
	for _, mount := range mounts {
		args = append(args, "-v", mount[0]+":"+mount[1]+":Z")
	}
	id, err := e.Runtime.Create(ctx, e.Image, args)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := e.Runtime.RemoveContainer(ctx, id); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}()

	for _, file := range files {
		if err := e.Runtime.CopyFrom(ctx, id, file, dst); err != nil {
			return err
		}
	}
	return nil
}

// setupLocal prepares the host in container mode. Packages are only
// installed when dpkg does not know them yet.
func (e *Environment) setupLocal(ctx context.Context) error {
	cfg := e.Config
	root := RunOptions{Root: true, Dir: cfg.RootDir}

	if ppas := ppaCommands(cfg); len(ppas) > 0 {
		if err := e.Run(ctx, strings.Join(ppas, " && "), root); err != nil {
			return err
		}
	}

	if deps := Dependencies(cfg); len(deps) > 0 {
		missing, err := e.missingPackages(ctx, deps)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			e.logger().Info("installing packages", "packages", missing)
			if err := e.Run(ctx, "apt-get update && "+installCommand(missing), root); err != nil {
				return err
			}
		}
	}

	for _, command := range rustCommands(cfg, e.HostArch) {
		if err := e.Run(ctx, command, root); err != nil {
			return err
		}
	}

	e.env = maps.Clone(cfg.ImageSetup.Env)
	for _, command := range cfg.ImageSetup.Run.Values(false) {
		if err := e.Run(ctx, command, root); err != nil {
			return err
		}
	}
	return nil
}

func (e *Environment) missingPackages(ctx context.Context, deps []string) ([]string, error) {
	var missing []string
	for _, dep := range deps {
		out, err := e.Output(ctx, "dpkg -s "+shell.Quote([]string{dep})+" | grep Status", RunOptions{Dir: e.Config.RootDir, Stderr: io.Discard})
		var exitErr *shell.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return nil, err
		}
		if strings.TrimSpace(out) != "Status: install ok installed" {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

func within(parent, path string) bool {
	if parent == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(parent, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func touch(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
