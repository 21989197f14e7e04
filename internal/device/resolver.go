package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/shell"
)

// DefaultCheckTimeout bounds each ADB architecture check.
const DefaultCheckTimeout = 3 * time.Second

// Resolver decides which channel reaches the device. A Resolver is meant to
// live for the whole process; it is not safe for concurrent use.
type Resolver struct {
	Runner   shell.Runner
	Settings Settings
	HostArch arch.Architecture
	// Routes is consulted before reaching an IP address over SSH. Nil skips
	// the check.
	Routes       Router
	CheckTimeout time.Duration
	Logger       *slog.Logger

	hushlogin sync.Once
}

func (r *Resolver) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Resolver) timeout() time.Duration {
	if r.CheckTimeout > 0 {
		return r.CheckTimeout
	}
	return DefaultCheckTimeout
}

// Resolve finds the device for sel. With Detect, channels are tried in the
// order implied by the default target and an unreachable device yields a
// StateNone device unless required is set. A forced selection tries only
// that channel and any failure is returned.
func (r *Resolver) Resolve(ctx context.Context, sel Selection, required bool) (*Device, error) {
	if sel == "" {
		sel = Detect
	}
	attempt := &resolution{Resolver: r}

	var (
		dev *Device
		err error
	)
	switch sel {
	case Host:
		return r.host(), nil
	case SSH:
		dev, err = attempt.ssh(ctx)
	case ADB:
		dev, err = attempt.adb(ctx)
	case Detect:
		dev, err = attempt.detect(ctx)
	default:
		return nil, clickerr.Config("unknown device target %q", sel)
	}
	if err == nil {
		r.logger().Debug("device resolved", "state", dev.State, "arch", dev.Arch)
		return dev, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}

	if sel == Detect && !required {
		r.logger().Debug("no device found", "reason", err)
		return &Device{State: StateNone, runner: r.Runner}, nil
	}
	return nil, (&clickerr.Error{Kind: clickerr.Device, Message: "cannot access device", Err: err}).
		WithHint("connect a device via USB or pass --ssh <ip>")
}

// Attached lists the devices visible to adb.
func (r *Resolver) Attached(ctx context.Context) ([]Attached, error) {
	out, err := r.Runner.Output(ctx, ListCommand())
	if err != nil {
		return nil, err
	}
	return ParseAttached(out), nil
}

func (r *Resolver) host() *Device {
	return &Device{State: StateHost, Arch: r.HostArch, runner: r.Runner}
}

// resolution holds the state of a single Resolve call.
type resolution struct {
	*Resolver
	// legacy is set after the first ADB check timeout.
	legacy bool
}

func (p *resolution) detect(ctx context.Context) (*Device, error) {
	target := Selection(p.Settings.DefaultTarget)
	if target == Host {
		return p.host(), nil
	}

	channels := []func(context.Context) (*Device, error){p.ssh, p.adb}
	if target == ADB {
		channels = []func(context.Context) (*Device, error){p.adb, p.ssh}
	}

	var reasons []error
	for _, try := range channels {
		dev, err := try(ctx)
		if err == nil {
			return dev, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		p.logger().Debug("device channel not available", "reason", err)
		reasons = append(reasons, err)
	}
	return nil, errors.Join(reasons...)
}

func (p *resolution) ssh(ctx context.Context) (*Device, error) {
	address := p.Settings.IPv4
	if address == "" {
		return nil, unavailable("ssh", "no IP address specified (--ssh)")
	}
	if ip := net.ParseIP(address); ip != nil && p.Routes != nil {
		if err := p.Routes.Reachable(ip); err != nil {
			return nil, unavailable("ssh", "%v", err)
		}
	}

	seconds := max(int(p.timeout()/time.Second), 1)
	check := &SSH{
		Host:    address,
		Port:    p.Settings.SSHPort,
		Options: []string{"BatchMode=yes", fmt.Sprintf("ConnectTimeout=%d", seconds)},
	}
	out, err := p.Runner.Output(ctx, check.Command(ArchCommand))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("ssh", "%v", err)
	}
	detected, err := parseArch(out)
	if err != nil {
		return nil, err
	}

	transport := &SSH{Host: address, Port: p.Settings.SSHPort}
	p.hushlogin.Do(func() {
		if err := p.Runner.Run(ctx, transport.Command("touch ~/.hushlogin")); err != nil {
			p.logger().Warn("failed to suppress the login banner", "error", err)
		}
	})
	return &Device{State: StateSSH, Arch: detected, Transport: transport, runner: p.Runner}, nil
}

func (p *resolution) adb(ctx context.Context) (*Device, error) {
	attached, err := p.Attached(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("adb", "%v", err)
	}
	if len(attached) == 0 {
		return nil, unavailable("adb", "no devices attached")
	}
	serial := p.Settings.SerialNumber
	if serial == "" && len(attached) > 1 {
		return nil, unavailable("adb", "multiple devices detected via adb, select one with --serial-number")
	}

	transport := &ADB{Serial: serial, Legacy: p.legacy}
	for {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout())
		out, err := p.Runner.Output(checkCtx, transport.Command(ArchCommand))
		timedOut := err != nil && ctx.Err() == nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded)
		cancel()

		switch {
		case timedOut && p.legacy:
			return nil, clickerr.Dev("adb did not answer within %s", p.timeout()).
				WithHint("unlock the device and reconnect it")
		case timedOut:
			p.logger().Info("adb did not answer, retrying with the legacy shell")
			p.legacy = true
			transport.Legacy = true
			continue
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			return nil, unavailable("adb", "%v", err)
		}

		detected, err := parseArch(out)
		if err != nil {
			return nil, err
		}
		return &Device{State: StateADB, Arch: detected, Transport: transport, runner: p.Runner}, nil
	}
}
