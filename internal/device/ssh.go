package device

import (
	"fmt"
	"strconv"

	"github.com/cochaviz/clickable/internal/shell"
)

// User is the account apps run as on the device.
const User = "phablet"

// SSH reaches a device over the network.
type SSH struct {
	Host string
	Port int
	// ForwardPort, when set, tunnels the same port number to the device.
	ForwardPort int
	// Options are passed as -o flags.
	Options []string
}

var _ Transport = (*SSH)(nil)

func (s *SSH) State() State {
	return StateSSH
}

func (s *SSH) target() string {
	return User + "@" + s.Host
}

// options renders the flags shared by ssh and scp. scp spells the port
// flag -P.
func (s *SSH) options(portFlag string) []string {
	var args []string
	if s.Port > 0 {
		args = append(args, portFlag, strconv.Itoa(s.Port))
	}
	for _, option := range s.Options {
		args = append(args, "-o", option)
	}
	return args
}

// Command implements Transport.
func (s *SSH) Command(command string) shell.Command {
	args := s.options("-p")
	if s.ForwardPort > 0 {
		args = append(args, "-L", fmt.Sprintf("%d:localhost:%d", s.ForwardPort, s.ForwardPort))
	}
	args = append(args, s.target(), command)
	return shell.Command{Name: "ssh", Args: args}
}

// Push implements Transport.
func (s *SSH) Push(src, dst string) shell.Command {
	args := append(s.options("-P"), src, s.target()+":"+dst)
	return shell.Command{Name: "scp", Args: args}
}

// Login returns the command opening a login shell on the device.
func (s *SSH) Login() shell.Command {
	return shell.Command{Name: "ssh", Args: append(s.options("-p"), s.target())}
}
