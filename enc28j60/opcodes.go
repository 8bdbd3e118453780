// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package enc28j60

// SPI opcodes, per the ENC28J60 datasheet. The top three bits of the first
// byte of a transaction select the operation; for RCR/WCR/BFS/BFC the low
// five bits select the register address within the current bank.
const (
	opReadCtrlReg  = 0x00
	opWriteCtrlReg = 0x40
	opBitFieldSet  = 0x80
	opBitFieldClr  = 0xA0
	opSoftReset    = 0xFF
	opReadBufMem   = 0x3A
	opWriteBufMem  = 0x7A

	addrMask = 0x1F
)
