// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dhcp implements a minimal DHCP client: DISCOVER/REQUEST
// generation, OFFER/ACK decoding, and the IDLE -> WAIT_OFFER -> WAIT_ACK
// -> READY state machine, registered as the udp layer's port-68 handler.
package dhcp

import (
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/udp"
)

// Well-known DHCP ports (host order; byte-swapped at the udp/ipv4
// serialize boundary like every other field in this module).
const (
	ClientPort uint16 = 68
	ServerPort uint16 = 67
)

// BOOTP message types this client emits or recognizes. DECLINE, NAK and
// RELEASE are never sent or acted on; lease renewal is a Non-goal.
const (
	msgDiscover = 1
	msgOffer    = 2
	msgRequest  = 3
	msgAck      = 5
)

const bootRequest = 1

// headerLen is the fixed BOOTP header size: op, htype, hlen, hops, xid,
// secs, flags, 4 IP address fields, client hardware address, the 10-byte
// hardware address padding, and the zero-padded sname/file fields.
const headerLen = 236

var magicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// optionsOffset is where the first option TLV begins: the fixed header
// followed by the magic cookie.
const optionsOffset = headerLen + len(magicCookie)

var broadcastIP = ethernet.IP{255, 255, 255, 255}

// State is this client's position in the DISCOVER/OFFER/REQUEST/ACK
// exchange.
type State int

const (
	StateIdle State = iota
	StateWaitOffer
	StateWaitAck
	StateReady
)

// Lease is the IPv4 configuration handed out by the server.
type Lease struct {
	IP      ethernet.IP
	Subnet  ethernet.IP
	Gateway ethernet.IP
	Server  ethernet.IP
}

// Client drives the DHCP state machine and transmits DISCOVER/REQUEST
// messages through a udp.Stack. Its transaction ID source is injectable
// so tests can supply a deterministic sequence; production callers wire
// dhcp/seed.Next, matching original_source's stack-address LCG.
type Client struct {
	localMAC ethernet.Addr
	xid      func() uint32
	udp      *udp.Stack

	state   State
	offered Lease
	lease   Lease

	ackMismatches int
	log           netlog.Logger
}

// Init constructs a Client and registers it as the udp handler for
// ClientPort, mirroring the source's dhcp_init.
func Init(udpStack *udp.Stack, localMAC ethernet.Addr, xidSource func() uint32) *Client {
	c := &Client{
		localMAC: localMAC,
		xid:      xidSource,
		udp:      udpStack,
		log:      netlog.Default,
	}
	udpStack.AddPort(ClientPort, c)
	return c
}

// SetLogger overrides the client's logger (netlog.Default otherwise).
func (c *Client) SetLogger(l netlog.Logger) {
	c.log = l
}

// State reports the client's current position in the exchange.
func (c *Client) State() State {
	return c.state
}

// Ready reports whether a lease has been confirmed by a matching ACK.
func (c *Client) Ready() bool {
	return c.state == StateReady
}

// Lease returns the confirmed configuration. It is the zero value until
// Ready reports true.
func (c *Client) Lease() Lease {
	return c.lease
}

// AckMismatches counts ACKs whose fields disagreed with the stored offer
// (spec.md §7: "dhcp_ready is left cleared"), for observability only; it
// never changes disposition.
func (c *Client) AckMismatches() int {
	return c.ackMismatches
}

// Poll (re)emits DISCOVER while no offer has been accepted yet. The
// caller is expected to invoke this once per main-loop iteration, as
// spec.md §4.7 describes ("the main loop drives re-transmission by
// repeatedly calling the DISCOVER emitter"); unlike the source, the
// trigger is the explicit state (not "my_ip == 0"), so a mismatched ACK
// after an OFFER, which returns the client to StateIdle, still leads to a
// fresh DISCOVER instead of wedging the client once the offered address
// has been recorded. An ACK that never arrives leaves the client in
// StateWaitAck, where Poll sends nothing.
func (c *Client) Poll() error {
	switch c.state {
	case StateIdle, StateWaitOffer:
		return c.sendDiscover()
	default:
		return nil
	}
}

func (c *Client) sendDiscover() error {
	buf := buildDiscover(c.xid(), c.localMAC)
	c.state = StateWaitOffer
	return c.udp.Send(ethernet.Broadcast, c.localMAC, ethernet.IP{}, broadcastIP, ClientPort, ServerPort, 0xff, buf)
}

// HandleDatagram implements udp.Handler.
func (c *Client) HandleDatagram(d udp.Datagram, payload []byte) ethernet.Verdict {
	if len(payload) < optionsOffset {
		c.log.Debugf("dhcp: short message (%d bytes)", len(payload))
		return ethernet.NotForMe
	}

	msgType, ok := decodeMessageType(payload)
	if !ok {
		c.log.Debugf("dhcp: no message type option")
		return ethernet.NotForMe
	}

	switch {
	case c.state == StateWaitOffer && msgType == msgOffer:
		c.handleOffer(payload)
	case c.state == StateWaitAck && msgType == msgAck:
		c.handleAck(payload)
	default:
		c.log.Debugf("dhcp: unexpected message type %d in state %d", msgType, c.state)
	}

	return ethernet.Consumed
}

func (c *Client) handleOffer(payload []byte) {
	offer := Lease{IP: yourIP(payload)}
	offer.Subnet, _ = decodeIP(payload, optSubnetMask)
	offer.Gateway, _ = decodeIP(payload, optRouter)
	offer.Server, _ = decodeIP(payload, optServerID)

	c.offered = offer
	c.state = StateWaitAck

	buf := buildRequest(c.xid(), c.localMAC, offer.IP, offer.Server)
	if err := c.udp.Send(ethernet.Broadcast, c.localMAC, ethernet.IP{}, broadcastIP, ClientPort, ServerPort, 0xff, buf); err != nil {
		c.log.Warnf("dhcp: request send failed: %v", err)
	}
}

func (c *Client) handleAck(payload []byte) {
	ack := Lease{IP: yourIP(payload)}
	ack.Subnet, _ = decodeIP(payload, optSubnetMask)
	ack.Gateway, _ = decodeIP(payload, optRouter)
	ack.Server, _ = decodeIP(payload, optServerID)

	if ack != c.offered {
		c.ackMismatches++
		c.log.Debugf("dhcp: ack %+v does not match offer %+v", ack, c.offered)
		c.state = StateIdle
		return
	}

	c.lease = c.offered
	c.state = StateReady
}

// yourIP reads the yiaddr field of the fixed BOOTP header (offset 16),
// not a TLV option.
func yourIP(payload []byte) (ip ethernet.IP) {
	copy(ip[:], payload[16:20])
	return ip
}

func putHeader(buf []byte, xid uint32, mac ethernet.Addr) {
	buf[0] = bootRequest
	buf[1] = 1 // htype: Ethernet
	buf[2] = 6 // hlen
	buf[3] = 0 // hops
	buf[4] = byte(xid >> 24)
	buf[5] = byte(xid >> 16)
	buf[6] = byte(xid >> 8)
	buf[7] = byte(xid)
	// secs, flags, ciaddr, yiaddr, siaddr, giaddr are left zero.
	copy(buf[28:34], mac[:])
	// addr padding, sname, file are left zero.
	copy(buf[headerLen:headerLen+len(magicCookie)], magicCookie[:])
}

func buildDiscover(xid uint32, mac ethernet.Addr) []byte {
	buf := make([]byte, optionsOffset, optionsOffset+32)
	putHeader(buf, xid, mac)

	var zeroIP ethernet.IP

	buf = appendOption(buf, optMessageType, []byte{msgDiscover})
	buf = appendOption(buf, optClientID, clientID(mac))
	buf = appendOption(buf, optRequestedIP, zeroIP[:])
	buf = appendOption(buf, optParamRequestList, paramRequestList)
	buf = append(buf, optEnd)

	return padEven(buf)
}

func buildRequest(xid uint32, mac ethernet.Addr, requestedIP, server ethernet.IP) []byte {
	buf := make([]byte, optionsOffset, optionsOffset+40)
	putHeader(buf, xid, mac)

	buf = appendOption(buf, optMessageType, []byte{msgRequest})
	buf = appendOption(buf, optClientID, clientID(mac))
	buf = appendOption(buf, optRequestedIP, requestedIP[:])
	buf = appendOption(buf, optServerID, server[:])
	buf = appendOption(buf, optParamRequestList, paramRequestList)
	buf = append(buf, optEnd)

	return padEven(buf)
}

// clientID builds option 61's value: a hardware-type byte (Ethernet)
// followed by the client's MAC.
func clientID(mac ethernet.Addr) []byte {
	id := make([]byte, 0, 7)
	id = append(id, 1)
	return append(id, mac[:]...)
}

func padEven(buf []byte) []byte {
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	return buf
}
