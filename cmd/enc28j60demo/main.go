// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command enc28j60demo brings up a netstack.Stack and polls it until a DHCP
// lease is confirmed, printing the assigned address, or until -timeout
// expires, exiting with an error.
//
// A real board wires Config.Bus/CS/Clock to its own SPI peripheral (the way
// board/usbarmory wires concrete SoC GPIO and DMA); this demo runs against
// spi/spitest instead, so it can be driven from an ordinary host without
// hardware, the same host-runnable shape the rest of this module's tests
// use. spi/spitest models the chip only; with no DHCP server answering, a
// host run ends at the timeout.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"time"

	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/netstack"
	"github.com/mpaysen/enc28j60-netstack/spi/spitest"
)

func main() {
	log.SetFlags(0)

	mac := flag.String("mac", "02:00:00:00:00:01", "local MAC address")
	timeout := flag.Duration("timeout", 10*time.Second, "give up waiting for a DHCP lease after this long")
	flag.Parse()

	localMAC, err := parseMAC(*mac)
	if err != nil {
		log.Fatalf("enc28j60demo: %v", err)
	}

	bus := spitest.NewBus()
	s := netstack.New(netstack.Config{
		Bus:   bus,
		CS:    &spitest.Pin{},
		Clock: spitest.Clock{},
		MAC:   localMAC,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := s.Init(ctx); err != nil {
		log.Fatalf("enc28j60demo: init: %v", err)
	}

	log.Printf("enc28j60demo: waiting for a DHCP lease...")

	for !s.DHCP().Ready() {
		if err := s.Poll(ctx); err != nil {
			log.Fatalf("enc28j60demo: poll: %v", err)
		}
		if err := ctx.Err(); err != nil {
			log.Fatalf("enc28j60demo: %v", err)
		}
	}

	lease := s.DHCP().Lease()
	log.Printf("enc28j60demo: leased %s (subnet %s, gateway %s, server %s)",
		lease.IP, lease.Subnet, lease.Gateway, lease.Server)

	stats := s.Stats()
	log.Printf("enc28j60demo: arp misses=%d dhcp ack mismatches=%d", stats.ARPMisses, stats.DHCPAckMismatch)
}

func parseMAC(s string) (ethernet.Addr, error) {
	var a ethernet.Addr

	hw, err := net.ParseMAC(s)
	if err != nil {
		return a, err
	}

	copy(a[:], hw)
	return a, nil
}
