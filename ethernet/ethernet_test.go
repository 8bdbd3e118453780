// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ethernet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	calls [][]byte
	ret   Verdict
}

func (h *recordingHandler) HandleFrame(buf []byte) Verdict {
	h.calls = append(h.calls, buf)
	return h.ret
}

func frame(etherType EtherType) []byte {
	buf := make([]byte, HeaderLen+4)
	PutHeader(buf, Broadcast, Addr{1, 2, 3, 4, 5, 6}, etherType)
	return buf
}

func TestDemuxDispatchesOnEtherType(t *testing.T) {
	var d Demux
	arp := &recordingHandler{ret: Consumed}
	ip := &recordingHandler{ret: Consumed}

	d.AddType(TypeARP, arp)
	d.AddType(TypeIPv4, ip)

	v := d.HandleFrame(frame(TypeIPv4))

	require.Equal(t, Consumed, v)
	assert.Len(t, ip.calls, 1)
	assert.Empty(t, arp.calls)
}

func TestDemuxNoMatchReturnsNotForMe(t *testing.T) {
	var d Demux
	d.AddType(TypeARP, &recordingHandler{ret: Consumed})

	assert.Equal(t, NotForMe, d.HandleFrame(frame(TypeIPv4)))
}

func TestDemuxTooShortIsNotForMe(t *testing.T) {
	var d Demux
	assert.Equal(t, NotForMe, d.HandleFrame([]byte{1, 2, 3}))
}

func TestDemuxCapacityClampsRegistrations(t *testing.T) {
	var d Demux
	first := &recordingHandler{ret: Consumed}
	second := &recordingHandler{ret: Consumed}
	third := &recordingHandler{ret: Consumed}

	d.AddType(EtherType(1), first)
	d.AddType(EtherType(2), second)
	d.AddType(EtherType(3), third)

	// the third registration is dropped; type 3 is never matched.
	assert.Equal(t, NotForMe, d.HandleFrame(frame(EtherType(3))))
}

func TestDestSrcMAC(t *testing.T) {
	buf := frame(TypeARP)

	assert.Equal(t, Broadcast, DestMAC(buf))
	assert.Equal(t, Addr{1, 2, 3, 4, 5, 6}, SrcMAC(buf))
}
