// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package udp implements the UDP header, the pseudo-header checksum, and
// the destination-port demultiplexer registered with the ipv4 layer.
package udp

import (
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/ipv4"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/netutil"
)

// HeaderLen is the UDP header size (source port, destination port,
// length, checksum).
const HeaderLen = 8

// dispatchCapacity is the fixed size of the destination-port dispatch
// table (spec.md §3: "capacity 2").
const dispatchCapacity = 2

// Datagram carries the addressing information a Handler needs to reply.
type Datagram struct {
	SrcIP   ethernet.IP
	DstIP   ethernet.IP
	SrcPort uint16
	DstPort uint16
}

// Handler processes a UDP datagram addressed to one local port.
type Handler interface {
	HandleDatagram(d Datagram, payload []byte) ethernet.Verdict
}

type portEntry struct {
	port    uint16
	handler Handler
}

// FrameSender transmits a fully framed Ethernet payload.
type FrameSender interface {
	Send(buf []byte) error
}

// Stack is the UDP layer instance.
type Stack struct {
	table [dispatchCapacity]portEntry
	idx   int

	ids    *ipv4.IDGenerator
	sender FrameSender
	log    netlog.Logger
}

// Init constructs a Stack and registers it as the UDP handler with
// ipStack, mirroring the source's udp_init(services, src_ip, src_mac).
func Init(ipStack *ipv4.Stack, sender FrameSender) *Stack {
	s := &Stack{
		ids:    ipStack.IDs,
		sender: sender,
		log:    netlog.Default,
	}
	ipStack.AddProtocol(ipv4.ProtoUDP, s)
	return s
}

// SetLogger overrides the stack's logger (netlog.Default otherwise).
func (s *Stack) SetLogger(l netlog.Logger) {
	s.log = l
}

// AddPort registers handler for local (destination) port. Registrations
// beyond dispatchCapacity are silently ignored, matching udp_add_type's
// idx-clamped append.
func (s *Stack) AddPort(port uint16, handler Handler) {
	if s.idx >= dispatchCapacity {
		return
	}
	s.table[s.idx] = portEntry{port, handler}
	s.idx++
}

// HandleDatagram implements ipv4.Handler. It parses the UDP header,
// verifies the checksum when the sender supplied one, and dispatches to
// whichever handler is registered for the destination port.
func (s *Stack) HandleDatagram(header ipv4.Header, segment []byte) ethernet.Verdict {
	if len(segment) < HeaderLen {
		s.log.Debugf("udp: short segment (%d bytes)", len(segment))
		return ethernet.NotForMe
	}

	srcPort := uint16(segment[0])<<8 | uint16(segment[1])
	dstPort := uint16(segment[2])<<8 | uint16(segment[3])
	checksum := uint16(segment[6])<<8 | uint16(segment[7])

	if checksum != 0 {
		sum := pseudoHeaderChecksum(header.SrcIP, header.DstIP, segment)
		if sum != 0 {
			s.log.Debugf("udp: checksum mismatch")
			return ethernet.NotForMe
		}
	}

	payload := segment[HeaderLen:]

	for i := 0; i < s.idx; i++ {
		if s.table[i].port == dstPort {
			d := Datagram{
				SrcIP:   header.SrcIP,
				DstIP:   header.DstIP,
				SrcPort: srcPort,
				DstPort: dstPort,
			}
			return s.table[i].handler.HandleDatagram(d, payload)
		}
	}

	s.log.Debugf("udp: no handler for port %d", dstPort)
	return ethernet.NotForMe
}

// Send builds and transmits a UDP datagram over IPv4/Ethernet, computing
// the pseudo-header checksum correctly (no adjustment beyond RFC 768).
func (s *Stack) Send(destMAC ethernet.Addr, localMAC ethernet.Addr, srcIP, dstIP ethernet.IP, srcPort, dstPort uint16, ttl uint8, payload []byte) error {
	segmentLen := HeaderLen + len(payload)
	totalLength := ipv4.HeaderLen + segmentLen
	frame := make([]byte, ethernet.HeaderLen+totalLength)

	ethernet.PutHeader(frame, destMAC, localMAC, ethernet.TypeIPv4)
	ipv4.PutHeader(frame[ethernet.HeaderLen:], uint16(totalLength), s.ids.Next(), ttl, ipv4.ProtoUDP, srcIP, dstIP)

	segment := frame[ethernet.HeaderLen+ipv4.HeaderLen:]
	segment[0] = byte(srcPort >> 8)
	segment[1] = byte(srcPort)
	segment[2] = byte(dstPort >> 8)
	segment[3] = byte(dstPort)
	segment[4] = byte(segmentLen >> 8)
	segment[5] = byte(segmentLen)
	segment[6] = 0
	segment[7] = 0
	copy(segment[HeaderLen:], payload)

	sum := pseudoHeaderChecksum(srcIP, dstIP, segment)
	segment[6] = byte(sum >> 8)
	segment[7] = byte(sum)

	return s.sender.Send(frame)
}

// pseudoHeaderChecksum computes the RFC 768 UDP checksum: the IPv4
// pseudo-header (source, destination, zero, protocol, UDP length)
// followed by the UDP header and payload, zero-padded to an even length.
func pseudoHeaderChecksum(src, dst ethernet.IP, segment []byte) uint16 {
	padded := len(segment)
	if padded%2 == 1 {
		padded++
	}

	buf := make([]byte, 12+padded)
	copy(buf[0:4], src[:])
	copy(buf[4:8], dst[:])
	buf[8] = 0
	buf[9] = ipv4.ProtoUDP
	buf[10] = byte(len(segment) >> 8)
	buf[11] = byte(len(segment))
	copy(buf[12:], segment)

	return netutil.IPChecksum(buf)
}
