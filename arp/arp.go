// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arp implements the Address Resolution Protocol cache, request/
// reply frame construction, and the inbound ARP handler registered with
// the Ethernet demultiplexer.
//
// ARP aging/expiry is a non-goal: entries are MRU-reordered but never
// timed out (spec.md §1).
package arp

import (
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/netlog"
)

// Capacity is the fixed size of the ARP cache (spec.md §3: N = 10).
const Capacity = 10

// frameLen is the size of an Ethernet+ARP request/reply frame (14-byte
// Ethernet header + 28-byte ARP payload), matching Testable Scenario S2.
const frameLen = ethernet.HeaderLen + 28

const (
	hwTypeEthernet = 1
	protoTypeIPv4  = 0x0800
	hwSizeMAC      = 6
	protoSizeIPv4  = 4

	opRequest = 1
	opReply   = 2
)

// Entry is a single (IPv4 address, MAC address) mapping.
type Entry struct {
	IP  ethernet.IP
	MAC ethernet.Addr
}

// Cache is an ordered set of at most Capacity ARP entries with a tail
// cursor marking the slot the next new entry is written to; once the
// cursor reaches the last slot it stays there. Its zero value is an
// empty, ready-to-use cache.
//
// The insert and lookup scans are deliberately inclusive of index tail,
// and insert writes to tail before incrementing it — preserved exactly as
// the source implements it (see DESIGN.md, "arp").
type Cache struct {
	entries [Capacity]Entry
	tail    int
}

// Insert adds or updates entry. If any occupied slot already holds
// entry.MAC, that slot is overwritten in place (dedup on MAC). Otherwise
// entry is written to the tail slot, and the tail advances unless the
// cache has reached Capacity.
func (c *Cache) Insert(entry Entry) {
	for i := 0; i <= c.tail; i++ {
		if c.entries[i].MAC == entry.MAC {
			c.entries[i] = entry
			return
		}
	}

	c.entries[c.tail] = entry

	if c.tail < Capacity-1 {
		c.tail++
	}
}

// Lookup returns the MAC address mapped to ip, if present. A hit promotes
// the entry one position toward the front (MRU reordering): the entry at
// index i > 0 swaps with its predecessor.
func (c *Cache) Lookup(ip ethernet.IP) (ethernet.Addr, bool) {
	for i := 0; i <= c.tail; i++ {
		if c.entries[i].IP == ip {
			mac := c.entries[i].MAC
			if i > 0 {
				c.entries[i], c.entries[i-1] = c.entries[i-1], c.entries[i]
			}
			return mac, true
		}
	}
	return ethernet.Addr{}, false
}

// Full reports whether the tail cursor has reached the last slot, which
// happens after Capacity-1 distinct MACs have been inserted; from then on
// every new MAC is written to that last slot (spec.md §9 "cache_full
// metric").
func (c *Cache) Full() bool {
	return c.tail == Capacity-1
}

// FrameSender transmits a fully framed Ethernet payload, as implemented by
// enc28j60.Driver. Declared here (rather than imported from enc28j60) to
// keep the protocol layers independent of the MAC driver package.
type FrameSender interface {
	Send(buf []byte) error
}

// Resolver is the ARP protocol instance: the cache plus the local identity
// needed to build requests and replies, and the Ethernet sender used to
// emit them.
type Resolver struct {
	cache    *Cache
	localIP  ethernet.IP
	localMAC ethernet.Addr
	sender   FrameSender
	log      netlog.Logger

	misses int
}

// Init constructs a Resolver bound to cache, localIP and localMAC, and
// registers it as the handler for EtherType ARP with demux, mirroring the
// source's arp_init(cache, ip, mac).
func Init(demux *ethernet.Demux, cache *Cache, localIP ethernet.IP, localMAC ethernet.Addr, sender FrameSender) *Resolver {
	r := &Resolver{
		cache:    cache,
		localIP:  localIP,
		localMAC: localMAC,
		sender:   sender,
		log:      netlog.Default,
	}
	demux.AddType(ethernet.TypeARP, r)
	return r
}

// SetLogger overrides the resolver's logger (netlog.Default otherwise).
func (r *Resolver) SetLogger(l netlog.Logger) {
	r.log = l
}

// SetLocalIP updates the address this resolver answers ARP requests for.
// Needed because a resolver is wired before DHCP resolves an address
// (see ipv4.Stack.SetLocalIP).
func (r *Resolver) SetLocalIP(ip ethernet.IP) {
	r.localIP = ip
}

// Resolve looks up ip in the cache. On a miss it sends an ARP request and
// returns false; the caller is expected to retry the transmission once
// the reply updates the cache.
func (r *Resolver) Resolve(ip ethernet.IP) (ethernet.Addr, bool) {
	if mac, ok := r.cache.Lookup(ip); ok {
		return mac, true
	}

	r.misses++
	r.sendRequest(ip)
	return ethernet.Addr{}, false
}

// Misses returns the number of Resolve calls that missed the cache and
// triggered a request (spec.md §9 Design Notes: a cache_full-style
// counter worth surfacing to a caller).
func (r *Resolver) Misses() int {
	return r.misses
}

func (r *Resolver) sendRequest(targetIP ethernet.IP) {
	var buf [frameLen]byte
	r.buildPackage(buf[:], opRequest, ethernet.Broadcast, r.localIP, targetIP, ethernet.Zero)

	if err := r.sender.Send(buf[:]); err != nil {
		r.log.Warnf("arp: request send failed: %v", err)
	}
}

func (r *Resolver) sendReply(destMAC ethernet.Addr, targetIP ethernet.IP) {
	var buf [frameLen]byte
	r.buildPackage(buf[:], opReply, destMAC, r.localIP, targetIP, destMAC)

	if err := r.sender.Send(buf[:]); err != nil {
		r.log.Warnf("arp: reply send failed: %v", err)
	}
}

// buildPackage assembles an Ethernet+ARP frame. The sender fields are
// always the local identity; targetMAC/targetIP identify the other party
// (zero MAC for a request, the requester's MAC for a reply).
func (r *Resolver) buildPackage(buf []byte, opcode uint16, destMAC ethernet.Addr, senderIP, targetIP ethernet.IP, targetMAC ethernet.Addr) {
	ethernet.PutHeader(buf, destMAC, r.localMAC, ethernet.TypeARP)

	p := buf[ethernet.HeaderLen:]
	putU16(p[0:2], hwTypeEthernet)
	putU16(p[2:4], protoTypeIPv4)
	p[4] = hwSizeMAC
	p[5] = protoSizeIPv4
	putU16(p[6:8], opcode)
	copy(p[8:14], r.localMAC[:])
	copy(p[14:18], senderIP[:])
	copy(p[18:24], targetMAC[:])
	copy(p[24:28], targetIP[:])
}

// HandleFrame implements ethernet.Handler. It parses the opcode at the ARP
// offset and either answers a request addressed to the local IP or learns
// a reply into the cache.
func (r *Resolver) HandleFrame(buf []byte) ethernet.Verdict {
	if len(buf) < frameLen {
		r.log.Debugf("arp: short frame (%d bytes)", len(buf))
		return ethernet.NotForMe
	}

	p := buf[ethernet.HeaderLen:]
	opcode := getU16(p[6:8])

	switch opcode {
	case opRequest:
		r.handleRequest(p)
	case opReply:
		r.handleReply(p)
	default:
		r.log.Debugf("arp: unknown opcode %d", opcode)
	}

	return ethernet.Consumed
}

func (r *Resolver) handleRequest(payload []byte) {
	var targetIP ethernet.IP
	copy(targetIP[:], payload[24:28])

	if targetIP != r.localIP {
		return
	}

	var senderMAC ethernet.Addr
	copy(senderMAC[:], payload[8:14])

	var senderIP ethernet.IP
	copy(senderIP[:], payload[14:18])

	// The requester is deliberately not inserted into the cache on this
	// path (spec.md §4.3, preserved from the source).
	r.sendReply(senderMAC, senderIP)
}

func (r *Resolver) handleReply(payload []byte) {
	var senderMAC ethernet.Addr
	copy(senderMAC[:], payload[8:14])

	var senderIP ethernet.IP
	copy(senderIP[:], payload[14:18])

	r.cache.Insert(Entry{IP: senderIP, MAC: senderMAC})
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func getU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
