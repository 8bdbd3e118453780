// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package netstack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaysen/enc28j60-netstack/dhcp"
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/ipv4"
	"github.com/mpaysen/enc28j60-netstack/spi/spitest"
)

var localMAC = ethernet.Addr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

func newTestStack(t *testing.T) (*Stack, *spitest.Bus) {
	t.Helper()

	bus := spitest.NewBus()
	cs := &spitest.Pin{}
	clock := spitest.Clock{}

	n := uint32(0)
	xid := func() uint32 { n++; return n }

	s := New(Config{Bus: bus, CS: cs, Clock: clock, MAC: localMAC, XIDSource: xid})
	require.NoError(t, s.Init(context.Background()))

	return s, bus
}

func putU16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

// dhcp's BOOTP layout, mirrored here rather than exported, since a raw
// byte-level server message is exactly what a packet sniffer would see
// on the wire.
const (
	bootpHeaderLen = 236
	bootpOptionsOffset = bootpHeaderLen + 4
)

var bootpMagicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

func appendOption(buf []byte, tag uint8, data []byte) []byte {
	buf = append(buf, tag, uint8(len(data)))
	return append(buf, data...)
}

func dhcpServerMessage(msgType uint8, yiaddr, subnet, gateway, server ethernet.IP) []byte {
	buf := make([]byte, bootpOptionsOffset)
	buf[0] = 2 // BOOTREPLY
	copy(buf[16:20], yiaddr[:])
	copy(buf[bootpHeaderLen:bootpHeaderLen+4], bootpMagicCookie[:])

	buf = appendOption(buf, 53, []byte{msgType})
	buf = appendOption(buf, 1, subnet[:])
	buf = appendOption(buf, 3, gateway[:])
	buf = appendOption(buf, 54, server[:])
	buf = append(buf, 255)

	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}
	return buf
}

func udpFrame(destMAC, srcMAC ethernet.Addr, srcIP, dstIP ethernet.IP, srcPort, dstPort uint16, payload []byte) []byte {
	segLen := 8 + len(payload)
	totalLen := ipv4.HeaderLen + segLen
	frame := make([]byte, ethernet.HeaderLen+totalLen)

	ethernet.PutHeader(frame, destMAC, srcMAC, ethernet.TypeIPv4)
	ipv4.PutHeader(frame[ethernet.HeaderLen:], uint16(totalLen), 1, 64, ipv4.ProtoUDP, srcIP, dstIP)

	seg := frame[ethernet.HeaderLen+ipv4.HeaderLen:]
	putU16(seg[0:2], srcPort)
	putU16(seg[2:4], dstPort)
	putU16(seg[4:6], uint16(segLen))
	seg[6], seg[7] = 0, 0 // checksum left zero: UDP validation is optional
	copy(seg[8:], payload)

	return frame
}

func arpFrame(opcode uint16, destMAC, srcMAC ethernet.Addr, senderIP, targetIP ethernet.IP, targetMAC ethernet.Addr) []byte {
	frame := make([]byte, ethernet.HeaderLen+28)
	ethernet.PutHeader(frame, destMAC, srcMAC, ethernet.TypeARP)

	p := frame[ethernet.HeaderLen:]
	putU16(p[0:2], 1)      // hardware type: Ethernet
	putU16(p[2:4], 0x0800) // protocol type: IPv4
	p[4] = 6
	p[5] = 4
	putU16(p[6:8], opcode)
	copy(p[8:14], srcMAC[:])
	copy(p[14:18], senderIP[:])
	copy(p[18:24], targetMAC[:])
	copy(p[24:28], targetIP[:])

	return frame
}

// Scenario S6, driven end to end through Stack.Poll and an injected
// DHCP OFFER/ACK exchange, followed by ARP and ICMP echo once the leased
// address is live.
func TestStackFullBringUp(t *testing.T) {
	ctx := context.Background()
	s, bus := newTestStack(t)

	require.NoError(t, s.Poll(ctx))
	require.Len(t, bus.Chip.SentFrames(), 1, "expected a DHCP DISCOVER")

	leasedIP := ethernet.IP{10, 0, 0, 42}
	subnet := ethernet.IP{255, 255, 255, 0}
	gateway := ethernet.IP{10, 0, 0, 1}
	server := ethernet.IP{10, 0, 0, 1}

	offer := dhcpServerMessage(2, leasedIP, subnet, gateway, server)
	bus.Chip.InjectFrame(udpFrame(localMAC, ethernet.Addr{0x02, 0, 0, 0, 0, 0x67}, server, ethernet.IP{255, 255, 255, 255}, dhcp.ServerPort, dhcp.ClientPort, offer))

	require.NoError(t, s.Poll(ctx))
	require.Len(t, bus.Chip.SentFrames(), 2, "expected a DHCP REQUEST")
	assert.False(t, s.dhcpClient.Ready())

	ack := dhcpServerMessage(5, leasedIP, subnet, gateway, server)
	bus.Chip.InjectFrame(udpFrame(localMAC, ethernet.Addr{0x02, 0, 0, 0, 0, 0x67}, server, ethernet.IP{255, 255, 255, 255}, dhcp.ServerPort, dhcp.ClientPort, ack))

	require.NoError(t, s.Poll(ctx))
	require.True(t, s.dhcpClient.Ready())
	assert.Equal(t, leasedIP, s.ipStack.LocalIP())

	// A further Poll, with nothing queued, must not re-emit DISCOVER.
	require.NoError(t, s.Poll(ctx))
	require.Len(t, bus.Chip.SentFrames(), 2)

	peerIP := ethernet.IP{10, 0, 0, 9}
	peerMAC := ethernet.Addr{0x02, 0, 0, 0, 0, 9}

	bus.Chip.InjectFrame(arpFrame(1, ethernet.Broadcast, peerMAC, peerIP, leasedIP, ethernet.Zero))
	require.NoError(t, s.Poll(ctx))
	require.Len(t, bus.Chip.SentFrames(), 3, "expected an ARP reply")

	bus.Chip.InjectFrame(arpFrame(2, localMAC, peerMAC, peerIP, leasedIP, localMAC))
	require.NoError(t, s.Poll(ctx))

	echoReq := make([]byte, 8+32)
	echoReq[0] = 8 // ICMP echo request
	putU16(echoReq[4:6], 0x0001)
	putU16(echoReq[6:8], 0x0003)
	icmpFrame := make([]byte, ethernet.HeaderLen+ipv4.HeaderLen+len(echoReq))
	ethernet.PutHeader(icmpFrame, localMAC, peerMAC, ethernet.TypeIPv4)
	ipv4.PutHeader(icmpFrame[ethernet.HeaderLen:], uint16(ipv4.HeaderLen+len(echoReq)), 2, 64, ipv4.ProtoICMP, peerIP, leasedIP)
	copy(icmpFrame[ethernet.HeaderLen+ipv4.HeaderLen:], echoReq)

	bus.Chip.InjectFrame(icmpFrame)
	require.NoError(t, s.Poll(ctx))
	require.Len(t, bus.Chip.SentFrames(), 4, "expected an ICMP echo reply")

	reply := bus.Chip.SentFrames()[3]
	assert.Equal(t, peerMAC, ethernet.DestMAC(reply))
	assert.Equal(t, uint8(32), reply[ethernet.HeaderLen+8]) // TTL halved: 64/2
}

func TestStackStatsReportsAckMismatches(t *testing.T) {
	s, _ := newTestStack(t)
	assert.Zero(t, s.Stats().DHCPAckMismatch)
}
