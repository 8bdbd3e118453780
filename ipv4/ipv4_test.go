// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ipv4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/netutil"
)

type recordingHandler struct {
	header  Header
	payload []byte
	called  bool
	ret     ethernet.Verdict
}

func (h *recordingHandler) HandleDatagram(header Header, payload []byte) ethernet.Verdict {
	h.header = header
	h.payload = append([]byte(nil), payload...)
	h.called = true
	return h.ret
}

func datagram(t *testing.T, protocol uint8, payload []byte) []byte {
	t.Helper()

	buf := make([]byte, ethernet.HeaderLen+HeaderLen+len(payload))
	ethernet.PutHeader(buf, ethernet.Broadcast, ethernet.Addr{1, 2, 3, 4, 5, 6}, ethernet.TypeIPv4)

	ipBuf := buf[ethernet.HeaderLen:]
	PutHeader(ipBuf, uint16(HeaderLen+len(payload)), 420, 64, protocol,
		ethernet.IP{10, 0, 0, 1}, ethernet.IP{10, 0, 0, 2})
	copy(ipBuf[HeaderLen:], payload)

	return buf
}

// Scenario S3: a header built by PutHeader checksums to zero when
// recomputed.
func TestPutHeaderChecksumsToZero(t *testing.T) {
	buf := datagram(t, ProtoUDP, nil)
	ip := buf[ethernet.HeaderLen:]
	assert.Zero(t, netutil.IPChecksum(ip[:HeaderLen]))
}

func TestStackDispatchesOnProtocol(t *testing.T) {
	var ethDemux ethernet.Demux
	s := Init(&ethDemux, ethernet.IP{10, 0, 0, 1})

	udp := &recordingHandler{ret: ethernet.Consumed}
	s.AddProtocol(ProtoUDP, udp)

	buf := datagram(t, ProtoUDP, []byte{0xde, 0xad})

	require.Equal(t, ethernet.Consumed, s.HandleFrame(buf))
	require.True(t, udp.called)
	assert.Equal(t, ethernet.IP{10, 0, 0, 1}, udp.header.SrcIP)
	assert.Equal(t, ethernet.IP{10, 0, 0, 2}, udp.header.DstIP)
	assert.Equal(t, uint8(ProtoUDP), udp.header.Protocol)
	assert.Equal(t, []byte{0xde, 0xad}, udp.payload)
}

func TestStackNoHandlerReturnsNotForMe(t *testing.T) {
	var ethDemux ethernet.Demux
	s := Init(&ethDemux, ethernet.IP{10, 0, 0, 1})

	buf := datagram(t, ProtoUDP, nil)

	assert.Equal(t, ethernet.NotForMe, s.HandleFrame(buf))
}

func TestStackDropsBadChecksum(t *testing.T) {
	var ethDemux ethernet.Demux
	s := Init(&ethDemux, ethernet.IP{10, 0, 0, 1})

	udp := &recordingHandler{ret: ethernet.Consumed}
	s.AddProtocol(ProtoUDP, udp)

	buf := datagram(t, ProtoUDP, nil)
	buf[ethernet.HeaderLen+11] ^= 0xff // corrupt the checksum

	assert.Equal(t, ethernet.NotForMe, s.HandleFrame(buf))
	assert.False(t, udp.called)
}

func TestIDGeneratorSeedsAt420AndIncrements(t *testing.T) {
	g := NewIDGenerator()

	assert.Equal(t, uint16(420), g.Next())
	assert.Equal(t, uint16(421), g.Next())
}
