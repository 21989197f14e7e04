package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/shell"
)

// ConfigDirName is the directory below the home directory holding the
// global configuration.
var ConfigDirName = ".clickable"

const globalConfigName = "config.yaml"

// ConfigDir returns the configuration directory for home.
func ConfigDir(home string) string {
	return filepath.Join(home, ConfigDirName)
}

// GlobalConfigPath returns the default path of the global config file.
func GlobalConfigPath(home string) string {
	return filepath.Join(ConfigDir(home), globalConfigName)
}

// Host is the per-user state of clickable on this machine.
type Host struct {
	Home   string
	Runner shell.Runner
	Logger *slog.Logger
}

func (h *Host) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Verify checks that the container runtime answers. Container mode needs no
// runtime and is always ready.
func (h *Host) Verify(ctx context.Context, runtime string, containerMode bool) error {
	if containerMode {
		h.logger().Debug("container mode, skipping runtime check")
		return nil
	}
	err := h.Runner.Run(ctx, shell.Command{
		Name:   runtime,
		Args:   []string{"info"},
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) {
			return clickerr.Env(
				fmt.Sprintf("make sure the %s service is running and your user may access it", runtime),
				"%s is not ready", runtime)
		}
		return err
	}
	h.logger().Debug("container runtime ready", "runtime", runtime)
	return nil
}

// ClearConfig removes the global config file.
func (h *Host) ClearConfig() error {
	path := GlobalConfigPath(h.Home)
	h.logger().Info("clearing configuration file", "path", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

const defaultGlobalConfig = `# Settings applied to every project. Project files and command line flags
# take precedence.
device:
  ssh_port: 22
environment:
  container_mode: false
build:
  always_clean: false
`

// Initialize writes the default global config unless one exists. It reports
// whether a file was written.
func (h *Host) Initialize() (bool, error) {
	dir, path := ConfigDir(h.Home), GlobalConfigPath(h.Home)
	if _, err := os.Stat(path); err == nil {
		h.logger().Info("global configuration exists", "path", path)
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(defaultGlobalConfig), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	h.logger().Info("wrote global configuration", "path", path)
	return true, nil
}
