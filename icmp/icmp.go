// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package icmp implements an ICMP echo responder (and an echo request
// generator) registered as the ipv4 layer's protocol-1 handler.
package icmp

import (
	"github.com/mpaysen/enc28j60-netstack/arp"
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/ipv4"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/netutil"
)

// HeaderLen is the ICMP header size (type, code, checksum, identifier,
// sequence number), excluding the echo payload.
const HeaderLen = 8

const (
	typeEchoReply   = 0
	typeEchoRequest = 8
	code            = 0
)

// echoPayload is the fixed 32-byte payload original_source's
// send_icmp_req/send_icmp_rep always attach, reproduced verbatim.
var echoPayload = []byte("abcdefghijklmnopqrstuvwabcdefghi")

// FrameSender transmits a fully framed Ethernet payload.
type FrameSender interface {
	Send(buf []byte) error
}

// Config is the local identity and subnet information the responder
// needs to decide whether a reply can be sent directly or must be routed
// through the gateway.
type Config struct {
	LocalIP    ethernet.IP
	LocalMAC   ethernet.Addr
	SubnetMask [4]byte
	Gateway    ethernet.IP
}

// Responder answers ICMP echo requests addressed to Config.LocalIP.
type Responder struct {
	cfg    Config
	ids    *ipv4.IDGenerator
	arp    *arp.Resolver
	sender FrameSender
	log    netlog.Logger
}

// Init constructs a Responder and registers it as the ICMP handler with
// ipStack, mirroring the source's icmp_init(src_ip, src_mac).
func Init(ipStack *ipv4.Stack, arpResolver *arp.Resolver, sender FrameSender, cfg Config) *Responder {
	r := &Responder{
		cfg:    cfg,
		ids:    ipStack.IDs,
		arp:    arpResolver,
		sender: sender,
		log:    netlog.Default,
	}
	ipStack.AddProtocol(ipv4.ProtoICMP, r)
	return r
}

// SetLogger overrides the responder's logger (netlog.Default otherwise).
func (r *Responder) SetLogger(l netlog.Logger) {
	r.log = l
}

// SetLocalIP updates the address echo replies answer from. Needed
// because a responder is wired before DHCP resolves an address (see
// ipv4.Stack.SetLocalIP).
func (r *Responder) SetLocalIP(ip ethernet.IP) {
	r.cfg.LocalIP = ip
}

// SetGateway updates the gateway used to route echoes outside the local
// subnet, once DHCP option 3 reports one.
func (r *Responder) SetGateway(ip ethernet.IP) {
	r.cfg.Gateway = ip
}

// SetSubnetMask updates the mask used for the same-subnet test, once
// DHCP option 1 reports one.
func (r *Responder) SetSubnetMask(mask [4]byte) {
	r.cfg.SubnetMask = mask
}

// HandleDatagram implements ipv4.Handler. Echo requests are answered;
// echo replies (and anything else) are consumed without further action,
// matching handle_icmp's always-zero return.
func (r *Responder) HandleDatagram(header ipv4.Header, payload []byte) ethernet.Verdict {
	if len(payload) < HeaderLen {
		r.log.Debugf("icmp: short message (%d bytes)", len(payload))
		return ethernet.Consumed
	}

	switch payload[0] {
	case typeEchoRequest:
		ident := uint16(payload[4])<<8 | uint16(payload[5])
		seq := uint16(payload[6])<<8 | uint16(payload[7])
		r.sendEcho(typeEchoReply, header.SrcIP, header.TTL/2, ident, seq)
	case typeEchoReply:
		// nothing to do; this stack never correlates echo replies to an
		// outstanding Ping call.
	default:
		r.log.Debugf("icmp: unhandled type %d", payload[0])
	}

	return ethernet.Consumed
}

// Ping sends an echo request to target, resolving its MAC address (via
// the gateway, if target is outside the local subnet) through arp.
// It returns without error on a cache miss; the caller is expected to
// retry once ARP resolves the address.
func (r *Responder) Ping(target ethernet.IP, ident, seq uint16) error {
	return r.sendEcho(typeEchoRequest, target, 0xff, ident, seq)
}

func (r *Responder) sendEcho(typ uint8, destIP ethernet.IP, ttl uint8, ident, seq uint16) error {
	arpKey := destIP
	if !netutil.SameSubnet([4]byte(destIP), [4]byte(r.cfg.LocalIP), r.cfg.SubnetMask) {
		arpKey = r.cfg.Gateway
	}

	destMAC, ok := r.arp.Resolve(arpKey)
	if !ok {
		r.log.Debugf("icmp: no MAC for %s yet, dropping echo", arpKey)
		return nil
	}

	icmpLen := HeaderLen + len(echoPayload)
	totalLength := ipv4.HeaderLen + icmpLen
	frame := make([]byte, ethernet.HeaderLen+totalLength)

	ethernet.PutHeader(frame, destMAC, r.cfg.LocalMAC, ethernet.TypeIPv4)
	ipv4.PutHeader(frame[ethernet.HeaderLen:], uint16(totalLength), r.ids.Next(), ttl, ipv4.ProtoICMP, r.cfg.LocalIP, destIP)

	icmpBuf := frame[ethernet.HeaderLen+ipv4.HeaderLen:]
	icmpBuf[0] = typ
	icmpBuf[1] = code
	icmpBuf[2] = 0
	icmpBuf[3] = 0
	icmpBuf[4] = byte(ident >> 8)
	icmpBuf[5] = byte(ident)
	icmpBuf[6] = byte(seq >> 8)
	icmpBuf[7] = byte(seq)
	copy(icmpBuf[HeaderLen:], echoPayload)

	sum := netutil.IPChecksum(icmpBuf[:icmpLen])
	icmpBuf[2] = byte(sum >> 8)
	icmpBuf[3] = byte(sum)

	return r.sender.Send(frame)
}
