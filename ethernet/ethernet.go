// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ethernet holds the types shared by every layer above the MAC
// driver (MAC and IPv4 addresses, the consumed/not-for-me verdict) and the
// Ethernet II demultiplexer: a fixed-capacity EtherType dispatch table
// that the host polling loop hands inbound frames to.
//
// This mirrors original_source's eth.h, which is included by every protocol
// header (arp.h, ipv4.h, udp.h, dhcp.h) purely for its shared mac_address,
// ip_address and mac_header types; here those live with the layer that
// owns the wire format they describe, Ethernet II.
package ethernet

import "fmt"

// HeaderLen is the size of an Ethernet II header: destination MAC, source
// MAC, EtherType.
const HeaderLen = 14

// Addr is a 6-octet MAC address.
type Addr [6]byte

// Broadcast is the all-ones MAC address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Zero is the "unknown target" sentinel used in ARP requests.
var Zero = Addr{}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IP is a 4-octet IPv4 address, stored and compared as a byte sequence.
type IP [4]byte

func (a IP) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// IsZero reports whether a is 0.0.0.0.
func (a IP) IsZero() bool {
	return a == IP{}
}

// EtherType identifies the payload protocol of an Ethernet II frame. Values
// are the host-endian numeric form (e.g. 0x0806 for ARP); the wire encoding
// is big-endian and handled by PutHeader and Demux.HandleFrame.
type EtherType uint16

const (
	TypeARP  EtherType = 0x0806
	TypeIPv4 EtherType = 0x0800
)

// Verdict is a handler's disposition for a frame it was offered, matching
// the source's per-call int status (0 = consumed, nonzero = not-for-me).
// No exception or error ever escapes a steady-state handler; an
// unrecognized frame is always dropped by its caller, never reported as a
// failure (SPEC_FULL.md §9).
type Verdict int

const (
	// Consumed indicates the handler recognized and processed the frame.
	Consumed Verdict = iota
	// NotForMe indicates no registered handler matched; the caller drops
	// the frame and continues polling.
	NotForMe
)

// Handler processes an inbound frame at whatever layer registered it.
type Handler interface {
	HandleFrame(buf []byte) Verdict
}

// dispatchCapacity is the fixed size of the EtherType dispatch table
// (spec.md §3: "capacity 2").
const dispatchCapacity = 2

type entry struct {
	etherType EtherType
	handler   Handler
}

// Demux is the Ethernet II demultiplexer: an append-only, fixed-capacity
// registry of (EtherType, Handler) pairs consulted for every inbound frame.
// Its zero value is ready to use.
type Demux struct {
	table [dispatchCapacity]entry
	idx   int
}

// AddType registers handler for etherType. Registrations beyond the fixed
// capacity are silently ignored, matching the source's idx-clamped append
// (handlers registered in boot order are never removed).
func (d *Demux) AddType(etherType EtherType, handler Handler) {
	if d.idx >= dispatchCapacity {
		return
	}
	d.table[d.idx] = entry{etherType, handler}
	d.idx++
}

// HandleFrame reads the EtherType at offset 12 of buf and dispatches to the
// matching registered handler. It returns NotForMe if buf is too short to
// contain an Ethernet header or no handler matches.
func (d *Demux) HandleFrame(buf []byte) Verdict {
	if len(buf) < HeaderLen {
		return NotForMe
	}

	typ := EtherType(uint16(buf[12])<<8 | uint16(buf[13]))

	for i := 0; i < d.idx; i++ {
		if d.table[i].etherType == typ {
			return d.table[i].handler.HandleFrame(buf)
		}
	}

	return NotForMe
}

// DestMAC returns the destination MAC address of an Ethernet II frame.
func DestMAC(buf []byte) (a Addr) {
	copy(a[:], buf[0:6])
	return
}

// SrcMAC returns the source MAC address of an Ethernet II frame.
func SrcMAC(buf []byte) (a Addr) {
	copy(a[:], buf[6:12])
	return
}

// PutHeader writes an Ethernet II header (destination MAC, source MAC,
// EtherType) to the start of buf, which must be at least HeaderLen bytes.
func PutHeader(buf []byte, dst, src Addr, etherType EtherType) {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	buf[12] = byte(etherType >> 8)
	buf[13] = byte(etherType)
}
