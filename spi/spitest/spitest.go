// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spitest provides a host-runnable model of an ENC28J60 attached to
// a SPI bus: enough of the opcode set, register bank switching, and SRAM
// buffer/ring behavior to drive the enc28j60 package's tests without real
// hardware. It is the thing that makes this module's "useful for host-side
// tests driving injected frames" design note (SPEC_FULL.md §3.2) true.
package spitest

import (
	"context"
	"errors"
	"time"
)

// SRAM layout and opcode values match the ENC28J60 datasheet; see
// enc28j60/opcodes.go and enc28j60/registers.go for the driver-side
// constants these mirror.
const (
	sramSize = 8 * 1024

	opRCR = 0x00 // top 3 bits of the opcode byte
	opWCR = 0x40
	opBFS = 0x80
	opBFC = 0xA0
	opRST = 0xFF
	opRBM = 0x3A
	opWBM = 0x7A

	addrMask = 0x1F
	cmdMask  = 0xE0

	// common (bank-independent) register addresses
	addrEIE   = 0x1B
	addrEIR   = 0x1C
	addrESTAT = 0x1D
	addrECON2 = 0x1E
	addrECON1 = 0x1F

	estatClkrdy = 0x01

	econ1Bsel0 = 0x01
	econ1Bsel1 = 0x02
	econ1Txrts = 0x08

	econ2Pktdec = 0x40

	eirTxerif = 0x02
	eirTxif   = 0x08
	eirPktif  = 0x40
)

// bank0 register offsets used internally to drive SRAM pointer/ring logic.
const (
	regERDPTL = 0x00
	regERDPTH = 0x01
	regEWRPTL = 0x02
	regEWRPTH = 0x03
	regETXSTL = 0x04
	regETXSTH = 0x05
	regETXNDL = 0x06
	regETXNDH = 0x07
	regERXSTL = 0x08
	regERXSTH = 0x09
	regERXNDL = 0x0A
	regERXNDH = 0x0B
)

// bank1 register offset for the received-packet counter.
const regEPKTCNT = 0x19

// Chip is a host-side model of an ENC28J60. Call NewChip to get one in the
// post-reset state: every register zero except ESTAT.CLKRDY, which the
// model reports as set immediately after a reset.
type Chip struct {
	banks  [4][32]byte
	common [5]byte // EIE, EIR, ESTAT, ECON2, ECON1, in address order
	phy    map[uint8]uint16

	sram [sramSize]byte

	rxWrite    uint16
	sent       [][]byte
	failNextTx bool
}

// NewChip returns a Chip ready to be driven over SPI.
func NewChip() *Chip {
	c := &Chip{phy: make(map[uint8]uint16)}
	c.reset()
	return c
}

func (c *Chip) reset() {
	c.banks = [4][32]byte{}
	c.common = [5]byte{}
	c.common[addrESTAT-addrEIE] = estatClkrdy
	c.phy = make(map[uint8]uint16)
	c.sent = nil
}

func (c *Chip) bank() uint8 {
	return c.common[addrECON1-addrEIE] & (econ1Bsel0 | econ1Bsel1)
}

// Register returns the current value of the control register at addr.
// Addresses 0x1B-0x1F are bank-independent; bank is otherwise significant.
func (c *Chip) Register(bank, addr uint8) byte {
	if addr >= addrEIE {
		return c.common[addr-addrEIE]
	}
	return c.banks[bank][addr]
}

// SentFrames returns the raw Ethernet frames handed to the chip via a
// TXRTS-triggered transmission, oldest first.
func (c *Chip) SentFrames() [][]byte {
	return c.sent
}

// FailNextTransmit arranges for the next TXRTS-triggered transmission to
// set EIR.TXERIF instead of completing, modeling the Rev.B4 transmit
// errata the driver must recover from.
func (c *Chip) FailNextTransmit() {
	c.failNextTx = true
}

// InjectFrame places frame in the receive ring as if it had arrived over
// the wire: it writes the next-packet pointer, length, and status-vector
// header the driver expects, appends a zero-filled placeholder CRC, and
// increments EPKTCNT.
func (c *Chip) InjectFrame(frame []byte) {
	erxst := c.u16(0, regERXSTL, regERXSTH)
	erxnd := c.u16(0, regERXNDL, regERXNDH)
	ringSize := uint32(erxnd) - uint32(erxst) + 1

	wrptr := c.rxWrite
	if wrptr == 0 {
		wrptr = erxst
	}

	total := 6 + len(frame) + 4
	next := erxst + uint16((uint32(wrptr)-uint32(erxst)+uint32(total))%ringSize)

	c.writeSRAM(wrptr, byte(next), byte(next>>8))
	c.writeSRAM(wrptr+2, byte(len(frame)+4), byte((len(frame)+4)>>8))
	c.writeSRAM(wrptr+4, 0x00, 0x80) // status high byte bit7: received OK
	for i, b := range frame {
		c.sram[c.wrap(wrptr+6+uint16(i), erxst, ringSize)] = b
	}
	crcOff := wrptr + 6 + uint16(len(frame))
	for i := 0; i < 4; i++ {
		c.sram[c.wrap(crcOff+uint16(i), erxst, ringSize)] = 0
	}

	c.rxWrite = next
	c.banks[1][regEPKTCNT]++
}

func (c *Chip) writeSRAM(at uint16, bytes ...byte) {
	erxst := c.u16(0, regERXSTL, regERXSTH)
	erxnd := c.u16(0, regERXNDL, regERXNDH)
	ringSize := uint32(erxnd) - uint32(erxst) + 1

	for i, b := range bytes {
		c.sram[c.wrap(at+uint16(i), erxst, ringSize)] = b
	}
}

func (c *Chip) wrap(addr, base uint16, ringSize uint32) uint16 {
	return base + uint16((uint32(addr)-uint32(base))%ringSize)
}

func (c *Chip) u16(bank int, lo, hi uint8) uint16 {
	return uint16(c.banks[bank][lo]) | uint16(c.banks[bank][hi])<<8
}

// Bus adapts a Chip to the spi.Bus interface used by the enc28j60 driver.
type Bus struct {
	Chip *Chip
}

// NewBus returns a Bus backed by a freshly reset Chip.
func NewBus() *Bus {
	return &Bus{Chip: NewChip()}
}

// Transceive decodes one SPI transaction against the chip model. The
// returned slice is always len(tx) bytes, mirroring the full-duplex shift
// register behavior real SPI hardware exhibits.
func (b *Bus) Transceive(ctx context.Context, tx []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tx) == 0 {
		return nil, errors.New("spitest: empty transaction")
	}

	rx := make([]byte, len(tx))
	c := b.Chip

	opcode := tx[0]

	if opcode == opRST {
		c.reset()
		return rx, nil
	}

	switch cmd := opcode & cmdMask; {
	case opcode == opRBM:
		c.readBuffer(tx, rx)
	case opcode == opWBM:
		c.writeBuffer(tx)
	case cmd == opRCR:
		c.readControlRegister(opcode&addrMask, tx, rx)
	case cmd == opWCR:
		c.writeControlRegister(opcode&addrMask, tx[1])
	case cmd == opBFS:
		c.bitFieldSet(opcode&addrMask, tx[1])
	case cmd == opBFC:
		c.bitFieldClear(opcode&addrMask, tx[1])
	default:
		return nil, errors.New("spitest: unrecognized opcode")
	}

	return rx, nil
}

func (c *Chip) readControlRegister(addr uint8, tx, rx []byte) {
	value := c.readReg(addr)

	// MAC/MII registers shift out a dummy byte before the data; a 3-byte
	// transaction (opcode, dummy, data) signals that form.
	if len(tx) == 3 {
		rx[2] = value
	} else {
		rx[1] = value
	}
}

func (c *Chip) writeControlRegister(addr uint8, value byte) {
	c.setReg(addr, value)
}

func (c *Chip) bitFieldSet(addr uint8, mask byte) {
	c.setReg(addr, c.readReg(addr)|mask)
}

func (c *Chip) bitFieldClear(addr uint8, mask byte) {
	c.setReg(addr, c.readReg(addr)&^mask)
}

func (c *Chip) readReg(addr uint8) byte {
	if addr >= addrEIE {
		return c.common[addr-addrEIE]
	}
	return c.banks[c.bank()][addr]
}

func (c *Chip) setReg(addr uint8, value byte) {
	if addr >= addrEIE {
		c.common[addr-addrEIE] = value
		switch addr {
		case addrECON1:
			c.onECON1Write(value)
		case addrECON2:
			c.onECON2Write(value)
		}
		return
	}
	c.banks[c.bank()][addr] = value
}

func (c *Chip) onECON1Write(value byte) {
	if value&econ1Txrts == 0 {
		return
	}
	c.transmit()
}

// onECON2Write models PKTDEC as a self-clearing action bit: setting it
// decrements EPKTCNT once and the bit reads back as clear, matching the
// datasheet's description of the hardware behavior.
func (c *Chip) onECON2Write(value byte) {
	if value&econ2Pktdec == 0 {
		return
	}
	if c.banks[1][regEPKTCNT] > 0 {
		c.banks[1][regEPKTCNT]--
	}
	c.common[addrECON2-addrEIE] &^= econ2Pktdec
}

func (c *Chip) transmit() {
	if c.failNextTx {
		c.failNextTx = false
		c.common[addrEIR-addrEIE] |= eirTxerif
		c.common[addrECON1-addrEIE] &^= econ1Txrts
		return
	}

	start := c.u16(0, regETXSTL, regETXSTH)
	end := c.u16(0, regETXNDL, regETXNDH)

	// the driver writes a one-byte per-packet control byte at ETXST
	// before the Ethernet frame.
	if end > start {
		frame := make([]byte, end-start)
		copy(frame, c.sram[start+1:end+1])
		c.sent = append(c.sent, frame)
	}

	c.common[addrEIR-addrEIE] |= eirTxif
	c.common[addrECON1-addrEIE] &^= econ1Txrts
}

func (c *Chip) readBuffer(tx, rx []byte) {
	ptr := c.u16(0, regERDPTL, regERDPTH)

	for i := 1; i < len(tx); i++ {
		rx[i] = c.sram[int(ptr)%sramSize]
		ptr = uint16((int(ptr) + 1) % sramSize)
	}

	c.banks[0][regERDPTL] = byte(ptr)
	c.banks[0][regERDPTH] = byte(ptr >> 8)
}

func (c *Chip) writeBuffer(tx []byte) {
	ptr := c.u16(0, regEWRPTL, regEWRPTH)

	for i := 1; i < len(tx); i++ {
		c.sram[int(ptr)%sramSize] = tx[i]
		ptr = uint16((int(ptr) + 1) % sramSize)
	}

	c.banks[0][regEWRPTL] = byte(ptr)
	c.banks[0][regEWRPTH] = byte(ptr >> 8)
}

// Pin is a no-op spi.Pin recording assert/deassert calls, sufficient since
// Chip does not model chip-select timing.
type Pin struct {
	Asserted bool
}

func (p *Pin) Assert()   { p.Asserted = true }
func (p *Pin) Deassert() { p.Asserted = false }

// Clock is an spi.Clock that returns immediately, honoring context
// cancellation like a real clock would if woken early.
type Clock struct{}

func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
