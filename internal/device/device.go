// Package device finds the phone a project is deployed to and runs commands
// on it over SSH or ADB.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/shell"
)

// State is the outcome of a resolution.
type State string

const (
	StateNone State = "none"
	StateSSH  State = "ssh"
	StateADB  State = "adb"
	StateHost State = "host"
)

// Selection is the channel requested by the caller.
type Selection string

const (
	Detect Selection = "detect"
	SSH    Selection = "ssh"
	ADB    Selection = "adb"
	Host   Selection = "host"
)

// ParseSelection accepts the values of --target.
func ParseSelection(value string) (Selection, error) {
	switch sel := Selection(strings.ToLower(strings.TrimSpace(value))); sel {
	case "":
		return Detect, nil
	case Detect, SSH, ADB, Host:
		return sel, nil
	default:
		return "", clickerr.Config("unknown device target %q (detect, ssh, adb, host)", value)
	}
}

// ArchCommand prints the architecture of a device.
const ArchCommand = "dpkg --print-architecture"

// ErrUnavailable marks a channel whose preconditions are not met or that did
// not answer. It never aborts detection.
var ErrUnavailable = errors.New("device not available")

func unavailable(channel, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, channel, fmt.Sprintf(format, args...))
}

// Settings are the resolved device related options.
type Settings struct {
	IPv4          string
	SSHPort       int
	SerialNumber  string
	DefaultTarget string
}

// Transport turns device operations into the host commands performing them.
type Transport interface {
	State() State
	Command(command string) shell.Command
	// Push copies the host file src to dst on the device.
	Push(src, dst string) shell.Command
}

// Device is a resolved device. The zero State is not valid; an absent device
// has StateNone.
type Device struct {
	State     State
	Arch      arch.Architecture
	Transport Transport

	runner shell.Runner
}

// Available reports whether commands can run on d.
func (d *Device) Available() bool {
	return d != nil && d.State != StateNone
}

// Command returns the host command that runs command on d.
func (d *Device) Command(command string) (shell.Command, error) {
	switch {
	case !d.Available():
		return shell.Command{}, clickerr.Dev("no device available").
			WithHint("connect a device via USB or pass --ssh <ip>")
	case d.State == StateHost:
		return shell.Command{Name: "bash", Args: []string{"-c", command}}, nil
	}
	return d.Transport.Command(command), nil
}

// Run executes command on d, streaming its output.
func (d *Device) Run(ctx context.Context, command string) error {
	cmd, err := d.Command(command)
	if err != nil {
		return err
	}
	return d.runner.Run(ctx, cmd)
}

// Output executes command on d and returns its stdout.
func (d *Device) Output(ctx context.Context, command string) (string, error) {
	cmd, err := d.Command(command)
	if err != nil {
		return "", err
	}
	return d.runner.Output(ctx, cmd)
}

// Push copies the host file src to dst on d.
func (d *Device) Push(ctx context.Context, src, dst string) error {
	switch {
	case !d.Available():
		return clickerr.Dev("no device available").
			WithHint("connect a device via USB or pass --ssh <ip>")
	case d.State == StateHost:
		return d.runner.Run(ctx, shell.Command{Name: "cp", Args: []string{"-r", src, dst}})
	}
	return d.runner.Run(ctx, d.Transport.Push(src, dst))
}

// Login opens an interactive shell on d. ADB devices are reached over ssh
// through a forwarded port, so sshd has to run on the device.
func (d *Device) Login(ctx context.Context) error {
	if !d.Available() {
		return clickerr.Dev("no device available").
			WithHint("connect a device via USB or pass --ssh <ip>")
	}

	var cmd shell.Command
	switch t := d.Transport.(type) {
	case *ADB:
		port, err := d.Forward(ctx, 22)
		if err != nil {
			return err
		}
		local := &SSH{
			Host:    "localhost",
			Port:    port,
			Options: []string{"UserKnownHostsFile=/dev/null", "StrictHostKeyChecking=no"},
		}
		cmd = local.Login()
	case *SSH:
		cmd = t.Login()
	default:
		cmd = shell.Command{Name: "bash", Args: []string{"-l"}}
	}
	cmd.Interactive = true
	return d.runner.Run(ctx, cmd)
}

// Port range scanned for a free local port when forwarding over ADB.
const (
	FirstForwardPort = 2222
	LastForwardPort  = 2298
)

// Forward makes the device port remote reachable from the host and returns
// the local port. Over ADB the first free port of the forward range wins;
// over SSH subsequent commands carry a tunnel for remote itself.
func (d *Device) Forward(ctx context.Context, remote int) (int, error) {
	if !d.Available() {
		return 0, clickerr.Dev("no device available")
	}
	switch t := d.Transport.(type) {
	case *ADB:
		for port := FirstForwardPort; port <= LastForwardPort; port++ {
			if err := d.runner.Run(ctx, t.ForwardCommand(port, remote)); err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				continue
			}
			return port, nil
		}
		return 0, clickerr.Dev("failed to open a port to the device")
	case *SSH:
		t.ForwardPort = remote
		return remote, nil
	}
	return remote, nil
}

func parseArch(output string) (arch.Architecture, error) {
	value := strings.TrimSpace(output)
	detected := arch.Normalize(value)
	if detected == "" || detected == arch.All {
		return "", clickerr.Dev("device reported unsupported architecture %q", value)
	}
	return detected, nil
}
