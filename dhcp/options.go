// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dhcp

import "github.com/mpaysen/enc28j60-netstack/ethernet"

const (
	optSubnetMask       = 1
	optRouter           = 3
	optRequestedIP      = 50
	optMessageType      = 53
	optServerID         = 54
	optParamRequestList = 55
	optClientID         = 61
	optEnd              = 255
)

// paramRequestList asks the server for the subnet mask, router, DNS server,
// and NTP server options, matching original_source's option_55 contents.
var paramRequestList = []byte{optSubnetMask, optRouter, 6, 42}

// appendOption appends a tag-length-value option to buf.
func appendOption(buf []byte, tag uint8, data []byte) []byte {
	buf = append(buf, tag, uint8(len(data)))
	return append(buf, data...)
}

// findOption scans the TLV options following the magic cookie for tag,
// returning its value only if present and if its length matches
// expectedLen exactly; any mismatch is reported as "not found", per
// spec.md §4.7's decode rule.
func findOption(payload []byte, tag uint8, expectedLen int) ([]byte, bool) {
	offset := optionsOffset

	for offset+1 < len(payload) {
		t := payload[offset]
		if t == optEnd {
			break
		}

		length := int(payload[offset+1])
		if offset+2+length > len(payload) {
			break
		}

		if t == tag && length == expectedLen {
			return payload[offset+2 : offset+2+length], true
		}

		offset += 2 + length
	}

	return nil, false
}

func decodeMessageType(payload []byte) (uint8, bool) {
	data, ok := findOption(payload, optMessageType, 1)
	if !ok {
		return 0, false
	}
	return data[0], true
}

func decodeIP(payload []byte, tag uint8) (ip ethernet.IP, ok bool) {
	data, found := findOption(payload, tag, 4)
	if !found {
		return ip, false
	}
	copy(ip[:], data)
	return ip, true
}
