// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package netstack composites the MAC driver and every protocol layer
// into a single instantiable Stack, replacing original_source's
// module-scope globals (spec.md §9 Design Notes: "re-architect as a
// NetStack composite... useful for host-side tests driving injected
// frames").
package netstack

import (
	"context"

	"github.com/mpaysen/enc28j60-netstack/arp"
	"github.com/mpaysen/enc28j60-netstack/dhcp"
	"github.com/mpaysen/enc28j60-netstack/dhcp/seed"
	"github.com/mpaysen/enc28j60-netstack/enc28j60"
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/icmp"
	"github.com/mpaysen/enc28j60-netstack/ipv4"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/spi"
	"github.com/mpaysen/enc28j60-netstack/udp"
)

// Config is the board wiring and identity this stack needs: the MAC's
// SPI collaborators, the local MAC address, and (optionally) a DHCP
// transaction-ID source and logger.
type Config struct {
	Bus   spi.Bus
	CS    spi.Pin
	Clock spi.Clock
	MAC   ethernet.Addr

	// XIDSource generates DHCP transaction IDs. If nil, dhcp/seed.Next is
	// used (the stack-address LCG original_source relies on).
	XIDSource func() uint32

	// Logger receives drop/error disposition from every layer. If nil,
	// netlog.Default is used.
	Logger netlog.Logger
}

// Stats counts events that never change a layer's disposition but are
// worth observing (spec.md §9 Design Notes; §7 error handling design).
type Stats struct {
	ARPMisses       int
	DHCPAckMismatch int
}

// Stack owns the MAC driver, the Ethernet/ARP/IPv4/UDP dispatch tables,
// and the DHCP client, wired exactly as spec.md §2's control-flow
// paragraph describes: Ethernet demuxes to ARP and IPv4; IPv4 demuxes to
// ICMP and UDP; UDP demuxes to the DHCP client on port 68.
type Stack struct {
	driver *enc28j60.Driver
	demux  ethernet.Demux

	arpCache    arp.Cache
	arpResolver *arp.Resolver
	ipStack     *ipv4.Stack
	icmp        *icmp.Responder
	udpStack    *udp.Stack
	dhcpClient  *dhcp.Client

	leaseApplied bool
	log          netlog.Logger
}

// New wires a Stack from cfg. It does not touch the bus; call Init to
// bring the MAC up.
func New(cfg Config) *Stack {
	log := cfg.Logger
	if log == nil {
		log = netlog.Default
	}

	xid := cfg.XIDSource
	if xid == nil {
		xid = seed.Next
	}

	s := &Stack{log: log}

	s.driver = enc28j60.New(cfg.Bus, cfg.CS, cfg.Clock, cfg.MAC)
	s.driver.SetLogger(log)

	s.arpResolver = arp.Init(&s.demux, &s.arpCache, ethernet.IP{}, cfg.MAC, s.driver)
	s.arpResolver.SetLogger(log)

	s.ipStack = ipv4.Init(&s.demux, ethernet.IP{})
	s.ipStack.SetLogger(log)

	s.icmp = icmp.Init(s.ipStack, s.arpResolver, s.driver, icmp.Config{
		LocalIP:  ethernet.IP{},
		LocalMAC: cfg.MAC,
	})
	s.icmp.SetLogger(log)

	s.udpStack = udp.Init(s.ipStack, s.driver)
	s.udpStack.SetLogger(log)

	s.dhcpClient = dhcp.Init(s.udpStack, cfg.MAC, xid)
	s.dhcpClient.SetLogger(log)

	return s
}

// Init brings the MAC up: soft reset, RX ring and filter programming,
// PHY configuration.
func (s *Stack) Init(ctx context.Context) error {
	return s.driver.Init(ctx)
}

// DHCP returns the DHCP client, for callers that want to observe lease
// state directly (Ready, Lease, AckMismatches).
func (s *Stack) DHCP() *dhcp.Client {
	return s.dhcpClient
}

// Stats reports counters accumulated across every layer.
func (s *Stack) Stats() Stats {
	return Stats{
		ARPMisses:       s.arpResolver.Misses(),
		DHCPAckMismatch: s.dhcpClient.AckMismatches(),
	}
}

// Poll drives one iteration of the core's cooperative loop: it reads at
// most one frame from the MAC and, if present, runs it through the
// dispatch chain to completion, matching spec.md §5's scheduling model;
// it then services the DHCP client, (re)emitting DISCOVER while no offer
// has been accepted, or latching a lease confirmed by that frame into
// every layer.
func (s *Stack) Poll(ctx context.Context) error {
	buf, ok, err := s.driver.Receive(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.demux.HandleFrame(buf)
	}

	return s.pollDHCP()
}

func (s *Stack) pollDHCP() error {
	if !s.dhcpClient.Ready() {
		return s.dhcpClient.Poll()
	}

	if !s.leaseApplied {
		s.applyLease(s.dhcpClient.Lease())
		s.leaseApplied = true
	}

	return nil
}

// applyLease latches a confirmed DHCP lease into every layer that needs
// the local address, mirroring the pointers original_source's dhcp_init
// shared with the rest of the stack (my_ip_addr, my_subnet_addr,
// my_gateway_addr), minus the DHCP server address, which no layer above
// dhcp itself ever reads.
func (s *Stack) applyLease(lease dhcp.Lease) {
	s.ipStack.SetLocalIP(lease.IP)
	s.arpResolver.SetLocalIP(lease.IP)
	s.icmp.SetLocalIP(lease.IP)
	s.icmp.SetGateway(lease.Gateway)
	s.icmp.SetSubnetMask([4]byte(lease.Subnet))
}
