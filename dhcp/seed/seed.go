// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package seed provides the production DHCP transaction-ID source: a
// single step of a linear-congruential generator seeded from the address
// of a stack-local variable, the same scratchpad idiom
// original_source/Src/dhcp.c uses in generateID/rand. dhcp.Client takes
// its ID source as a func() uint32 so tests can inject a deterministic
// sequence instead.
package seed

import "unsafe"

const (
	multiplier = 1133769420
	increment  = 12345
)

// Next returns a new transaction ID, reseeding the generator from a fresh
// stack address on every call exactly as generateID did.
func Next() uint32 {
	var scratch int
	state := uint32(uintptr(unsafe.Pointer(&scratch)))
	state = state*multiplier + increment
	return (state >> 16) & 0x7fff
}
