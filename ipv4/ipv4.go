// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ipv4 implements IPv4 header construction/parsing and the
// protocol-number demultiplexer registered with the Ethernet layer.
//
// IP options and fragmentation are non-goals (mirroring
// original_source, which never sets more than a zero flags/fragment
// field and never reads past a fixed 20-byte header); every datagram
// this stack emits has IHL == 5. Inbound headers with IHL > 5 are
// accepted, and their options are skipped unread.
package ipv4

import (
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/netutil"
)

// HeaderLen is the fixed (no-options) IPv4 header size.
const HeaderLen = 20

const versionIHL = 0x45 // version 4, IHL 5 (20 bytes)

// Protocol numbers used by the layers above this one.
const (
	ProtoICMP = 1
	ProtoUDP  = 17
)

// dispatchCapacity is the fixed size of the protocol dispatch table
// (spec.md §3: "capacity 2" — ICMP and UDP).
const dispatchCapacity = 2

// Header is the parsed form of an inbound IPv4 header, handed to the
// registered Handler along with the datagram payload.
type Header struct {
	SrcIP       ethernet.IP
	DstIP       ethernet.IP
	Protocol    uint8
	TTL         uint8
	Ident       uint16
	TotalLength uint16
}

// Handler processes a datagram addressed to one protocol number.
type Handler interface {
	HandleDatagram(header Header, payload []byte) ethernet.Verdict
}

type protoEntry struct {
	protocol uint8
	handler  Handler
}

// IDGenerator hands out monotonically increasing IPv4 identification
// values, starting from the same seed original_source's calculate_next_id
// used (static uint16_t id = 420), emitted pre-increment.
type IDGenerator struct {
	next uint16
}

// NewIDGenerator returns an IDGenerator seeded at 420.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{next: 420}
}

// Next returns the next identification value.
func (g *IDGenerator) Next() uint16 {
	id := g.next
	g.next++
	return id
}

// Stack is the IPv4 layer instance: the protocol dispatch table plus the
// local identity and identification counter needed to build outgoing
// datagrams.
type Stack struct {
	table [dispatchCapacity]protoEntry
	idx   int

	localIP ethernet.IP
	IDs     *IDGenerator

	log netlog.Logger
}

// Init constructs a Stack bound to localIP and registers it as the
// handler for EtherType IPv4 with demux, mirroring the source's
// ipv4_init.
func Init(demux *ethernet.Demux, localIP ethernet.IP) *Stack {
	s := &Stack{
		localIP: localIP,
		IDs:     NewIDGenerator(),
		log:     netlog.Default,
	}
	demux.AddType(ethernet.TypeIPv4, s)
	return s
}

// SetLogger overrides the stack's logger (netlog.Default otherwise).
func (s *Stack) SetLogger(l netlog.Logger) {
	s.log = l
}

// LocalIP returns the address this stack answers to.
func (s *Stack) LocalIP() ethernet.IP {
	return s.localIP
}

// SetLocalIP updates the address this stack answers to. original_source
// holds my_ip_addr behind a pointer shared with the dhcp module for
// exactly this reason: the address is 0.0.0.0 until a lease is
// confirmed, then fixed for the life of the process (lease renewal is a
// Non-goal).
func (s *Stack) SetLocalIP(ip ethernet.IP) {
	s.localIP = ip
}

// AddProtocol registers handler for protocol number proto. Registrations
// beyond dispatchCapacity are silently ignored, matching ipv4_add_type's
// idx-clamped append.
func (s *Stack) AddProtocol(proto uint8, handler Handler) {
	if s.idx >= dispatchCapacity {
		return
	}
	s.table[s.idx] = protoEntry{proto, handler}
	s.idx++
}

// HandleFrame implements ethernet.Handler. It parses and checksum-
// validates the IPv4 header, then dispatches the payload to whichever
// protocol handler is registered for header.Protocol.
func (s *Stack) HandleFrame(buf []byte) ethernet.Verdict {
	if len(buf) < ethernet.HeaderLen+HeaderLen {
		s.log.Debugf("ipv4: short frame (%d bytes)", len(buf))
		return ethernet.NotForMe
	}

	ip := buf[ethernet.HeaderLen:]

	ihl := int(ip[0]&0x0F) * 4
	if ihl < HeaderLen || len(ip) < ihl {
		s.log.Debugf("ipv4: invalid IHL")
		return ethernet.NotForMe
	}

	if netutil.IPChecksum(ip[:ihl]) != 0 {
		s.log.Debugf("ipv4: checksum mismatch")
		return ethernet.NotForMe
	}

	totalLength := int(ip[2])<<8 | int(ip[3])
	if totalLength > len(ip) {
		totalLength = len(ip)
	}
	if totalLength < ihl {
		s.log.Debugf("ipv4: invalid total length %d", totalLength)
		return ethernet.NotForMe
	}

	var header Header
	header.TotalLength = uint16(totalLength)
	header.Ident = uint16(ip[4])<<8 | uint16(ip[5])
	header.TTL = ip[8]
	header.Protocol = ip[9]
	copy(header.SrcIP[:], ip[12:16])
	copy(header.DstIP[:], ip[16:20])

	payload := ip[ihl:totalLength]

	for i := 0; i < s.idx; i++ {
		if s.table[i].protocol == header.Protocol {
			return s.table[i].handler.HandleDatagram(header, payload)
		}
	}

	s.log.Debugf("ipv4: no handler for protocol %d", header.Protocol)
	return ethernet.NotForMe
}

// PutHeader writes a 20-byte IPv4 header (no options, no fragmentation)
// to buf[0:HeaderLen], computing and filling its checksum.
func PutHeader(buf []byte, totalLength, id uint16, ttl, protocol uint8, src, dst ethernet.IP) {
	buf[0] = versionIHL
	buf[1] = 0 // DSCP/ECN unused
	buf[2] = byte(totalLength >> 8)
	buf[3] = byte(totalLength)
	buf[4] = byte(id >> 8)
	buf[5] = byte(id)
	buf[6] = 0 // flags/fragment offset: no fragmentation
	buf[7] = 0
	buf[8] = ttl
	buf[9] = protocol
	buf[10] = 0
	buf[11] = 0
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])

	sum := netutil.IPChecksum(buf[0:HeaderLen])
	buf[10] = byte(sum >> 8)
	buf[11] = byte(sum)
}
