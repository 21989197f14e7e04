package device

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Router checks that the host can reach an address before a connection is
// attempted.
type Router interface {
	Reachable(ip net.IP) error
}

// NetlinkRouter asks the kernel routing table.
type NetlinkRouter struct{}

var _ Router = NetlinkRouter{}

func (NetlinkRouter) Reachable(ip net.IP) error {
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		return fmt.Errorf("no route to %s: %w", ip, err)
	}
	if len(routes) == 0 {
		return fmt.Errorf("no route to %s", ip)
	}
	return nil
}
