// Package deploy installs, starts and inspects the app on a resolved device.
package deploy

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/device"
	"github.com/cochaviz/clickable/internal/logging"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
)

// DeviceHome is where click packages are pushed before installation.
const DeviceHome = "/home/" + device.User

const (
	clickDir    = "/opt/click.ubuntu.com"
	lomiriClick = "gdbus call --system --dest com.lomiri.click --object-path /com/lomiri/click --method com.lomiri.click."
	enableSSH   = `sudo -u phablet bash -c '/usr/bin/gdbus call -y -d com.canonical.PropertyService ` +
		`-o /com/canonical/PropertyService -m com.canonical.PropertyService.SetProperty ssh true'`
)

// publicKeys are offered to ADB devices, later entries win.
var publicKeys = []string{"id_rsa.pub", "id_ed25519.pub"}

type Service struct {
	Logger *slog.Logger
	// Home is searched for ssh public keys.
	Home string
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// InstallRequest selects the click package to install.
type InstallRequest struct {
	// Click is the package path. Empty picks the newest click package in
	// the build directory.
	Click         string
	SkipUninstall bool
}

// Install pushes a click package to dev and installs it, removing the
// installed version first unless told otherwise.
func (s *Service) Install(ctx context.Context, dev *device.Device, cfg *project.Config, req InstallRequest) error {
	logger := s.logger().With(logging.UnitKey, "app", logging.ArchKey, cfg.Arch)
	if cfg.ContainerMode {
		logger.Info("skipping install in container mode")
		return nil
	}

	click := req.Click
	if click == "" {
		found, err := FindClick(cfg.BuildDir)
		if err != nil {
			return err
		}
		click = found
	}
	name := filepath.Base(click)
	dst := path.Join(DeviceHome, name)
	logger.Info("pushing click package", "click", click, "device", dev.State)
	if err := dev.Push(ctx, click, dst); err != nil {
		return err
	}

	base := cfg.FrameworkBase()
	if req.SkipUninstall || cfg.Device.SkipUninstall {
		logger.Info("skipping uninstall pre-step")
	} else {
		s.uninstall(ctx, dev, base, PackageName(name), logger)
	}

	logger.Info("installing the app", "click", name)
	if err := dev.Run(ctx, installCommand(base, dst)); err != nil {
		return err
	}
	logger.Debug("removing pushed click package", "path", dst)
	return dev.Run(ctx, "rm "+dst)
}

// uninstall removes the installed version of pkg. A missing app or a failed
// removal does not stop the installation.
func (s *Service) uninstall(ctx context.Context, dev *device.Device, base, pkg string, logger *slog.Logger) {
	out, err := dev.Output(ctx, fmt.Sprintf("readlink %s/%s/current", clickDir, pkg))
	lines := strings.Fields(out)
	if err != nil || len(lines) == 0 {
		logger.Debug("no installed version found", "package", pkg, "error", err)
		return
	}
	version := lines[len(lines)-1]

	logger.Info("uninstalling the app first", "package", pkg, "version", version)
	if err := dev.Run(ctx, uninstallCommand(base, pkg, version)); err != nil {
		logger.Warn("uninstall failed", "package", pkg, "error", err)
	}
}

func installCommand(base, click string) string {
	if base == "16.04" {
		return "pkcon install-local --allow-untrusted " + click
	}
	return lomiriClick + "Install " + click
}

func uninstallCommand(base, pkg, version string) string {
	if base == "16.04" {
		return fmt.Sprintf(`pkcon remove "%s;%s;all;local:click"`, pkg, version)
	}
	return lomiriClick + "Remove " + pkg
}

// FindClick returns the most recently modified click package in dir.
func FindClick(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.click"))
	if err != nil {
		return "", err
	}
	var (
		newest string
		latest int64
	)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > latest {
			newest, latest = match, mod
		}
	}
	if newest == "" {
		return "", clickerr.Config("no click package found in %s", dir).
			WithHint("build a click package or pass its path")
	}
	return newest, nil
}

// PackageName extracts the package name from a click file name of the form
// name_version_arch.click.
func PackageName(file string) string {
	name, _, _ := strings.Cut(strings.TrimSuffix(filepath.Base(file), ".click"), "_")
	return name
}

// LaunchRequest tunes a launch.
type LaunchRequest struct {
	// Package is the full app id passed to ubuntu-app-launch. The launch key
	// of the project config takes precedence.
	Package string
	// Kill overrides the kill key of the project config.
	Kill     string
	SkipKill bool
}

// Launch stops a running instance of the app and starts it again.
func (s *Service) Launch(ctx context.Context, dev *device.Device, cfg *project.Config, req LaunchRequest) error {
	logger := s.logger().With(logging.UnitKey, "app", logging.ArchKey, cfg.Arch)

	kill := cmp.Or(req.Kill, cfg.Kill)
	if req.SkipKill || kill == "" {
		logger.Info("skipping kill pre-step")
	} else if err := dev.Run(ctx, killCommand(kill)); err != nil {
		logger.Warn("could not kill the app, it may not be running", "error", err)
	}

	launch := cfg.Launch
	if launch == "" {
		if req.Package == "" {
			return clickerr.ConfigKey("launch", "no app to launch").
				WithHint("set launch in the project config or pass the full package name")
		}
		launch = "ubuntu-app-launch " + req.Package
	}
	logger.Info("launching the app")
	return dev.Run(ctx, "sleep 1s && "+launch)
}

// killCommand brackets the first character so that pkill does not match the
// shell running it.
func killCommand(process string) string {
	return fmt.Sprintf(`pkill -f "[%s]%s"`, process[:1], process[1:])
}

// Logs follows the log file of the app until ctx ends.
func (s *Service) Logs(ctx context.Context, dev *device.Device, cfg *project.Config, pkg string) error {
	logger := s.logger().With(logging.UnitKey, "app", logging.ArchKey, cfg.Arch)
	if cfg.ContainerMode {
		logger.Info("skipping logs in container mode")
		return nil
	}

	log := cfg.Log
	if log == "" {
		if pkg == "" {
			return clickerr.ConfigKey("log", "no log file to follow").
				WithHint("set log in the project config or pass the full package name")
		}
		log = fmt.Sprintf("~/.cache/upstart/application-click-%s.log", pkg)
	}
	return dev.Run(ctx, "tail -f "+log)
}

// Shell opens a login shell on dev. ADB devices get sshd enabled and the
// user's public key authorized first.
func (s *Service) Shell(ctx context.Context, dev *device.Device) error {
	if dev.State == device.StateADB {
		if err := s.prepareSSH(ctx, dev); err != nil {
			return err
		}
	}
	return dev.Login(ctx)
}

func (s *Service) prepareSSH(ctx context.Context, dev *device.Device) error {
	out, err := dev.Output(ctx, "pgrep sshd")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || strings.TrimSpace(out) == "" {
		s.logger().Info("enabling ssh on the device")
		if err := dev.Run(ctx, enableSSH); err != nil {
			return err
		}
	}

	key, err := s.publicKey()
	if err != nil {
		return err
	}
	if key == "" {
		s.logger().Warn("no ssh public key found, the connection may be refused",
			"dir", filepath.Join(s.Home, ".ssh"), "keys", publicKeys)
		return nil
	}
	s.logger().Debug("authorizing ssh public key on the device")
	return dev.Run(ctx, authorizeCommand(key))
}

func (s *Service) publicKey() (string, error) {
	var key string
	for _, name := range publicKeys {
		data, err := os.ReadFile(filepath.Join(s.Home, ".ssh", name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		key = strings.TrimSpace(string(data))
	}
	return key, nil
}

func authorizeCommand(key string) string {
	quoted := shell.Quote([]string{key})
	return "mkdir -p ~/.ssh && touch ~/.ssh/authorized_keys && " +
		"(grep -qxF " + quoted + " ~/.ssh/authorized_keys || echo " + quoted + " >> ~/.ssh/authorized_keys) && " +
		"chmod 700 ~/.ssh && chmod 600 ~/.ssh/authorized_keys"
}
