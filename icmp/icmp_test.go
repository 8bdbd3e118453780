// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package icmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaysen/enc28j60-netstack/arp"
	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/ipv4"
	"github.com/mpaysen/enc28j60-netstack/netutil"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(buf []byte) error {
	cp := append([]byte(nil), buf...)
	f.sent = append(f.sent, cp)
	return nil
}

var (
	localIP  = ethernet.IP{10, 0, 0, 1}
	localMAC = ethernet.Addr{0x02, 0, 0, 0, 0, 1}
	mask     = [4]byte{255, 255, 255, 0}
	gateway  = ethernet.IP{10, 0, 0, 254}
)

func newResponder(t *testing.T) (*Responder, *arp.Cache, *fakeSender) {
	t.Helper()

	var ethDemux ethernet.Demux
	ipStack := ipv4.Init(&ethDemux, localIP)
	var cache arp.Cache
	sender := &fakeSender{}
	resolver := arp.Init(&ethDemux, &cache, localIP, localMAC, sender)

	r := Init(ipStack, resolver, sender, Config{
		LocalIP:    localIP,
		LocalMAC:   localMAC,
		SubnetMask: mask,
		Gateway:    gateway,
	})

	return r, &cache, sender
}

// Scenario S5: an echo request from a known peer produces a single echo
// reply with TTL halved and the original identifier/sequence echoed.
func TestHandleDatagramEchoRequestSendsReply(t *testing.T) {
	r, cache, sender := newResponder(t)

	peerIP := ethernet.IP{10, 0, 0, 9}
	peerMAC := ethernet.Addr{0x02, 0, 0, 0, 0, 9}
	cache.Insert(arp.Entry{IP: peerIP, MAC: peerMAC})

	req := make([]byte, HeaderLen)
	req[0] = typeEchoRequest
	req[4], req[5] = 0x00, 0x2a // ident 42
	req[6], req[7] = 0x00, 0x01 // seq 1

	verdict := r.HandleDatagram(ipv4.Header{SrcIP: peerIP, TTL: 64}, req)

	require.Equal(t, ethernet.Consumed, verdict)
	require.Len(t, sender.sent, 1)

	frame := sender.sent[0]
	assert.Equal(t, peerMAC, ethernet.DestMAC(frame))

	ip := frame[ethernet.HeaderLen:]
	assert.Equal(t, uint8(32), ip[8]) // TTL halved: 64/2

	icmpBuf := frame[ethernet.HeaderLen+ipv4.HeaderLen:]
	assert.Equal(t, uint8(typeEchoReply), icmpBuf[0])
	assert.Equal(t, uint16(0x002a), uint16(icmpBuf[4])<<8|uint16(icmpBuf[5]))
	assert.Equal(t, uint16(0x0001), uint16(icmpBuf[6])<<8|uint16(icmpBuf[7]))
	assert.Zero(t, netutil.IPChecksum(icmpBuf[:HeaderLen+len(echoPayload)]))
}

func TestHandleDatagramEchoRequestARPMissDropsSilently(t *testing.T) {
	r, _, sender := newResponder(t)

	req := make([]byte, HeaderLen)
	req[0] = typeEchoRequest

	verdict := r.HandleDatagram(ipv4.Header{SrcIP: ethernet.IP{10, 0, 0, 9}, TTL: 64}, req)

	assert.Equal(t, ethernet.Consumed, verdict)
	// the only frame sent is the resolver's ARP request; no echo reply.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{0x08, 0x06}, sender.sent[0][12:14])
}

func TestHandleDatagramEchoReplyIsNoOp(t *testing.T) {
	r, _, sender := newResponder(t)

	rep := make([]byte, HeaderLen)
	rep[0] = typeEchoReply

	verdict := r.HandleDatagram(ipv4.Header{SrcIP: ethernet.IP{10, 0, 0, 9}, TTL: 64}, rep)

	assert.Equal(t, ethernet.Consumed, verdict)
	assert.Empty(t, sender.sent)
}

func TestPingOutOfSubnetUsesGatewayForARP(t *testing.T) {
	r, cache, sender := newResponder(t)

	gatewayMAC := ethernet.Addr{0x02, 0, 0, 0, 0, 0xfe}
	cache.Insert(arp.Entry{IP: gateway, MAC: gatewayMAC})

	require.NoError(t, r.Ping(ethernet.IP{8, 8, 8, 8}, 1, 1))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, gatewayMAC, ethernet.DestMAC(sender.sent[0]))
}
